package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/resolver"
)

const pageTimeout = 30 * time.Second

// RodScraper renders the post page in a headless browser and reads its
// Open Graph tags.
type RodScraper struct {
	resolver *resolver.Resolver
	log      logrus.FieldLogger
}

func NewRodScraper(res *resolver.Resolver, logger logrus.FieldLogger) *RodScraper {
	return &RodScraper{
		resolver: res,
		log:      logger.WithField("component", "scraper.rod"),
	}
}

func (s *RodScraper) ScrapePost(ctx context.Context, url string) (rec domain.PostRecord, err error) {
	log := s.log.WithField("url", url)

	postID, err := domain.ExtractPostID(url)
	if err != nil {
		return domain.PostRecord{}, err
	}

	path, exists := launcher.LookPath()
	if !exists {
		log.Error("Cannot find browser executable for rod")
		return domain.PostRecord{}, errors.New("rod browser dependency not found")
	}
	u, err := launcher.New().Bin(path).Launch()
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err = browser.Connect(); err != nil {
		return domain.PostRecord{}, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("failed to create page: %w", err)
	}

	pageCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err = page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.Warn("Scraping timed out")
			return domain.PostRecord{}, fmt.Errorf("%w: scraping timed out for %s", domain.ErrUpstream, url)
		}
		return domain.PostRecord{}, fmt.Errorf("failed waiting for page load: %w", err)
	}

	meta := func(property string) string {
		el, err := page.Element(`meta[property="` + property + `"]`)
		if err != nil {
			return ""
		}
		content, err := el.Attribute("content")
		if err != nil || content == nil {
			return ""
		}
		return strings.TrimSpace(*content)
	}

	text := meta("og:description")
	if text == "" {
		return domain.PostRecord{}, fmt.Errorf("%w: no post content on page", domain.ErrPostNotFound)
	}

	rec = domain.PostRecord{
		PostID:    postID,
		Author:    domain.Author{Name: strings.TrimSuffix(meta("og:title"), " on X")},
		Text:      strings.Trim(text, "“”\""),
		FetchedAt: time.Now(),
	}
	if img := meta("og:image"); img != "" {
		rec.Media = s.resolver.Normalize(map[string]any{
			"media": []any{map[string]any{"type": "photo", "url": img}},
		}, nil)
	}

	log.Info("Post scraped")
	return rec, nil
}
