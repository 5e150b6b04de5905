package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// SavedLink represents one bookmarked post in a user's link list.
type SavedLink struct {
	// URL is the canonical form of the post URL and the unique key within a list.
	URL string `json:"url"`

	// PostID is the numeric status identifier extracted from the URL.
	PostID string `json:"id"`

	// SavedAt indicates when the link was first saved.
	SavedAt time.Time `json:"saved"`
}

const canonicalHost = "twitter.com"

// hostAliases collapse to canonicalHost before comparison.
var hostAliases = map[string]bool{
	"twitter.com": true,
	"x.com":       true,
}

var statusPattern = regexp.MustCompile(`/status/(\d+)`)

// Canonical returns the canonical form of a post URL. Host aliases (x.com,
// www., mobile.) collapse to twitter.com, the scheme is forced to https, and
// query strings, fragments and trailing slashes are dropped.
func Canonical(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := collapseHost(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if hostAliases[host] {
		host = canonicalHost
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	return "https://" + host + path, nil
}

func collapseHost(host string) string {
	host = strings.ToLower(host)
	for _, prefix := range []string{"www.", "mobile."} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}

// IsPostURL reports whether raw points at a single status on a known host.
func IsPostURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !hostAliases[collapseHost(u.Hostname())] {
		return false
	}
	return strings.Contains(u.Path, "/status/")
}

// ExtractPostID returns the status id embedded in a post URL.
func ExtractPostID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	m := statusPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: no status id in %q", ErrInvalidURL, raw)
	}
	return m[1], nil
}

// NewSavedLink validates raw and builds a SavedLink stamped with now.
func NewSavedLink(raw string, now time.Time) (SavedLink, error) {
	if !IsPostURL(raw) {
		return SavedLink{}, fmt.Errorf("%w: %q is not a post URL", ErrInvalidURL, raw)
	}
	canonical, err := Canonical(raw)
	if err != nil {
		return SavedLink{}, err
	}
	id, err := ExtractPostID(canonical)
	if err != nil {
		return SavedLink{}, err
	}
	return SavedLink{URL: canonical, PostID: id, SavedAt: now}, nil
}
