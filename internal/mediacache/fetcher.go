package mediacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"perch/internal/domain"
)

// Fetcher downloads the bytes behind a remote URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (payload []byte, contentType string, err error)
}

// ProxyURL routes rawURL through the same-origin relay at base.
func ProxyURL(base, rawURL string) string {
	return strings.TrimRight(base, "/") + "/fetch?url=" + url.QueryEscape(rawURL)
}

// ProxyFetcher downloads media through the proxy fetch endpoint.
// No timeout is applied; a hung download only blocks its own task.
type ProxyFetcher struct {
	client *http.Client
	base   string
}

func NewProxyFetcher(proxyBase string, client *http.Client) *ProxyFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &ProxyFetcher{client: client, base: proxyBase}
}

func (f *ProxyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProxyURL(f.base, rawURL), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: proxy returned %d for %s", domain.ErrUpstream, resp.StatusCode, rawURL)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %v", domain.ErrUpstream, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = mimetype.Detect(payload).String()
	}
	return payload, contentType, nil
}
