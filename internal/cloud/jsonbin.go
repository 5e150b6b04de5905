package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultJSONBinURL = "https://api.jsonbin.io/v3"

// JSONBinStore keeps documents as private bins on a JSONBin compatible API.
type JSONBinStore struct {
	base      string
	masterKey string
	http      *http.Client
	log       logrus.FieldLogger
}

func NewJSONBinStore(baseURL, masterKey string, client *http.Client, logger logrus.FieldLogger) *JSONBinStore {
	if baseURL == "" {
		baseURL = DefaultJSONBinURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &JSONBinStore{
		base:      strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		http:      client,
		log:       logger.WithField("component", "cloud.jsonbin"),
	}
}

type binResponse struct {
	Record   Document `json:"record"`
	Metadata struct {
		ID string `json:"id"`
	} `json:"metadata"`
}

func (s *JSONBinStore) Create(ctx context.Context, doc Document) (string, error) {
	resp, err := s.do(ctx, http.MethodPost, "/b", doc, func(h http.Header) {
		h.Set("X-Bin-Name", mirrorKey(doc.CredentialDigest))
		h.Set("X-Bin-Private", "true")
	})
	if err != nil {
		return "", err
	}
	if resp.Metadata.ID == "" {
		return "", fmt.Errorf("%w: jsonbin returned no bin id", domain.ErrUpstream)
	}
	s.log.WithField("bin_id", resp.Metadata.ID).Info("Created bin")
	return resp.Metadata.ID, nil
}

func (s *JSONBinStore) Read(ctx context.Context, handle string) (Document, error) {
	resp, err := s.do(ctx, http.MethodGet, "/b/"+handle+"/latest", nil, nil)
	if err != nil {
		return Document{}, err
	}
	return resp.Record, nil
}

func (s *JSONBinStore) Update(ctx context.Context, handle string, doc Document) error {
	_, err := s.do(ctx, http.MethodPut, "/b/"+handle, doc, nil)
	return err
}

func (s *JSONBinStore) do(ctx context.Context, method, path string, body any, header func(http.Header)) (*binResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Master-Key", s.masterKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if header != nil {
		header(req.Header)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: bin %s", domain.ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: jsonbin status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out binResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding jsonbin response: %v", domain.ErrUpstream, err)
	}
	return &out, nil
}
