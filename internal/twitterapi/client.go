// Package twitterapi talks to the post lookup API.
package twitterapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/resolver"
)

var json = jsoniter.Config{UseNumber: true}.Froze()

const mediaFields = "type,url,preview_image_url,variants,width,height,alt_text"

// verifyPostID is looked up when verifying a credential; any answer other
// than 401/403 proves the credential was accepted.
const verifyPostID = "1234567890123456789"

// LanguageDetector tags post text with a language code.
type LanguageDetector interface {
	Detect(text string) string
}

// Client fetches posts and normalizes them into PostRecords.
type Client struct {
	base     string
	http     *http.Client
	resolver *resolver.Resolver
	lang     LanguageDetector
	log      logrus.FieldLogger
}

// NewClient creates a client for the API at baseURL. lang may be nil.
func NewClient(baseURL string, httpClient *http.Client, res *resolver.Resolver, lang LanguageDetector, logger logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		resolver: res,
		lang:     lang,
		log:      logger.WithField("component", "twitterapi"),
	}
}

type lookupResponse struct {
	Tweets      []map[string]any `json:"tweets"`
	Includes    map[string]any   `json:"includes"`
	AltIncludes map[string]any   `json:"_includes"`
}

func (c *Client) lookup(ctx context.Context, credential, postID string) (*lookupResponse, error) {
	q := url.Values{}
	q.Set("tweet_ids", postID)
	q.Set("expansions", "attachments.media_keys")
	q.Set("media.fields", mediaFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/twitter/tweets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", domain.ErrInvalidCredential, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrUpstream, err)
	}
	return &out, nil
}

// FetchPost looks up one post. Credential rejections are reported as
// domain.ErrInvalidCredential, everything else as domain.ErrUpstream or
// domain.ErrPostNotFound.
func (c *Client) FetchPost(ctx context.Context, credential, postID string) (domain.PostRecord, error) {
	log := c.log.WithField("post_id", postID)
	if credential == "" {
		return domain.PostRecord{}, domain.ErrMissingCredential
	}

	resp, err := c.lookup(ctx, credential, postID)
	if err != nil {
		log.WithError(err).Warn("Post lookup failed")
		return domain.PostRecord{}, err
	}
	if len(resp.Tweets) == 0 {
		return domain.PostRecord{}, fmt.Errorf("%w: %s", domain.ErrPostNotFound, postID)
	}

	includes := resp.Includes
	if includes == nil {
		includes = resp.AltIncludes
	}
	rec := c.toRecord(postID, resp.Tweets[0], includes)
	log.WithField("media_count", len(rec.Media)).Info("Post fetched")
	return rec, nil
}

// VerifyCredential reports domain.ErrInvalidCredential when the API rejects
// credential. Other failures do not count against the credential.
func (c *Client) VerifyCredential(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return domain.ErrMissingCredential
	}
	_, err := c.lookup(ctx, credential, verifyPostID)
	if errors.Is(err, domain.ErrInvalidCredential) {
		return err
	}
	if err != nil {
		c.log.WithError(err).Debug("Credential check failed for a non-credential reason")
	}
	return nil
}

func (c *Client) toRecord(postID string, tweet, includes map[string]any) domain.PostRecord {
	author, _ := tweet["author"].(map[string]any)

	// Records are keyed by the id they were requested under.
	rec := domain.PostRecord{
		PostID: postID,
		Author: domain.Author{
			Name:      firstString(author, "name"),
			Handle:    firstString(author, "userName", "username", "screen_name"),
			AvatarURL: firstString(author, "profilePicture", "profile_image_url_https", "profile_image_url"),
			Verified:  firstBool(author, "isBlueVerified", "verified", "isVerified"),
		},
		Text:      firstString(tweet, "text", "full_text"),
		CreatedAt: parseTime(firstString(tweet, "createdAt", "created_at")),
		Media:     c.resolver.Normalize(tweet, includes),
		FetchedAt: time.Now(),
	}
	if got := firstString(tweet, "id", "id_str"); got != "" && got != postID {
		c.log.WithFields(logrus.Fields{"post_id": postID, "returned_id": got}).Warn("API answered with a different post id")
	}
	if c.lang != nil {
		rec.Language = c.lang.Detect(rec.Text)
	}
	return rec
}

var timeLayouts = []string{time.RFC3339, time.RubyDate, time.RFC1123Z}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok && b {
			return true
		}
	}
	return false
}
