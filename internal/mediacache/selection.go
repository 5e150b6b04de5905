package mediacache

import (
	"strings"

	"github.com/samber/lo"

	"perch/internal/domain"
)

// Selection is the source chosen for one media descriptor.
type Selection struct {
	URL string

	// Overlay marks a video-like item shown as its still poster with a play
	// affordance because no playable source was found.
	Overlay bool
}

// Select picks the URL to display for desc.
//
// Video and animated items prefer the mp4 variant with the highest declared
// bitrate (first one wins a tie), then the legacy source URL, then the poster
// image as an overlay. Photos use their source URL.
func Select(desc domain.MediaDescriptor) (Selection, error) {
	if !desc.Kind.Playable() {
		if desc.SourceURL == "" {
			return Selection{}, domain.ErrUnresolvable
		}
		return Selection{URL: desc.SourceURL}, nil
	}

	mp4s := lo.Filter(desc.Variants, func(v domain.Variant, _ int) bool {
		return strings.Contains(v.ContentType, "mp4") && v.URL != ""
	})
	if len(mp4s) > 0 {
		best := lo.MaxBy(mp4s, func(a, b domain.Variant) bool {
			return a.Bitrate > b.Bitrate
		})
		return Selection{URL: best.URL}, nil
	}

	if desc.SourceURL != "" {
		return Selection{URL: desc.SourceURL}, nil
	}
	if desc.PosterURL != "" {
		return Selection{URL: desc.PosterURL, Overlay: true}, nil
	}
	return Selection{}, domain.ErrUnresolvable
}
