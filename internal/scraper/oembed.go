package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
)

const DefaultOEmbedURL = "https://publish.twitter.com/oembed"

type oembedResponse struct {
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

// OEmbedScraper reads the public oEmbed endpoint, which needs no credential
// and returns the post text inside an embeddable blockquote.
type OEmbedScraper struct {
	endpoint string
	http     *http.Client
	log      logrus.FieldLogger
}

func NewOEmbedScraper(endpoint string, client *http.Client, logger logrus.FieldLogger) *OEmbedScraper {
	if endpoint == "" {
		endpoint = DefaultOEmbedURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OEmbedScraper{
		endpoint: endpoint,
		http:     client,
		log:      logger.WithField("component", "scraper.oembed"),
	}
}

func (s *OEmbedScraper) ScrapePost(ctx context.Context, rawURL string) (domain.PostRecord, error) {
	postID, err := domain.ExtractPostID(rawURL)
	if err != nil {
		return domain.PostRecord{}, err
	}

	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("omit_script", "true")
	q.Set("dnt", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.PostRecord{}, fmt.Errorf("%w: %s", domain.ErrPostNotFound, postID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.PostRecord{}, fmt.Errorf("%w: oembed status %d", domain.ErrUpstream, resp.StatusCode)
	}

	var body oembedResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.PostRecord{}, fmt.Errorf("%w: decoding oembed: %v", domain.ErrUpstream, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body.HTML))
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("%w: parsing oembed html: %v", domain.ErrUpstream, err)
	}
	para := doc.Find("blockquote p").First()
	// Attachment links inside the paragraph are t.co shorteners, not media.
	para.Find("a").Each(func(_ int, a *goquery.Selection) {
		if strings.HasPrefix(strings.TrimSpace(a.Text()), "pic.twitter.com") {
			a.Remove()
		}
	})
	para.Find("br").ReplaceWithHtml("\n")

	rec := domain.PostRecord{
		PostID: postID,
		Author: domain.Author{
			Name:   body.AuthorName,
			Handle: handleFromURL(body.AuthorURL),
		},
		Text:      strings.TrimSpace(para.Text()),
		FetchedAt: time.Now(),
	}
	s.log.WithField("post_id", postID).Debug("Post scraped from oembed")
	return rec, nil
}

func handleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}
