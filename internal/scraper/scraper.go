// Package scraper extracts post content without an API credential.
package scraper

import (
	"context"

	"perch/internal/domain"
)

// Scraper fetches a best-effort PostRecord for a post URL.
type Scraper interface {
	// ScrapePost returns the text and author of the post at url. Media is
	// included only when the page exposes it.
	ScrapePost(ctx context.Context, url string) (domain.PostRecord, error)
}
