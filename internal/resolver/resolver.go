// Package resolver turns the differently-shaped media payloads of a post into
// normalized media descriptors.
package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
)

// photoURLFields is the priority order for a photo's source URL.
var photoURLFields = []string{
	"url",
	"preview_image_url",
	"previewImageUrl",
	"expanded_url",
	"media_url_https",
	"media_url",
}

// videoSourceFields is the legacy fallback chain for video-like items.
var videoSourceFields = []string{"media_url_https", "media_url", "url"}

var posterFields = []string{"preview_image_url", "previewImageUrl", "media_url_https", "media_url"}

var idFields = []string{"media_key", "mediaKey", "key", "id_str", "id"}

var kinds = map[string]domain.MediaKind{
	"photo":        domain.MediaPhoto,
	"image":        domain.MediaPhoto,
	"video":        domain.MediaVideo,
	"animated_gif": domain.MediaAnimatedImage,
	"gif":          domain.MediaAnimatedImage,
}

// Resolver normalizes post media payloads. It never fails: anomalies are
// logged and produce an empty or partial list.
type Resolver struct {
	log logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *Resolver {
	return &Resolver{log: logger.WithField("component", "resolver")}
}

// Normalize returns the media descriptors of post. includes is the optional
// side-table of a lookup response and may be nil.
func (r *Resolver) Normalize(post, includes map[string]any) []domain.MediaDescriptor {
	if post == nil {
		return []domain.MediaDescriptor{}
	}

	for _, rl := range rules {
		if !rl.applies(post, includes) {
			continue
		}
		raw := rl.extract(post, includes)
		out := make([]domain.MediaDescriptor, 0, len(raw))
		for i, item := range raw {
			desc, ok := r.describe(item)
			if !ok {
				r.log.WithFields(logrus.Fields{
					"rule":  rl.name,
					"index": i,
					"type":  stringOf(item["type"]),
				}).Warn("Skipping unusable media item")
				continue
			}
			out = append(out, desc)
		}
		if len(out) > 0 {
			return out
		}
		r.log.WithField("rule", rl.name).Warn("Media shape present but yielded no descriptors")
	}
	return []domain.MediaDescriptor{}
}

func (r *Resolver) describe(item map[string]any) (domain.MediaDescriptor, bool) {
	kind, ok := kinds[strings.ToLower(stringOf(item["type"]))]
	if !ok {
		return domain.MediaDescriptor{}, false
	}

	desc := domain.MediaDescriptor{Kind: kind}
	if kind == domain.MediaPhoto {
		desc.SourceURL = firstString(item, photoURLFields...)
		if desc.SourceURL == "" {
			return domain.MediaDescriptor{}, false
		}
	} else {
		desc.Variants = variants(item)
		desc.SourceURL = firstString(item, videoSourceFields...)
		desc.PosterURL = firstString(item, posterFields...)
		if len(desc.Variants) == 0 && desc.SourceURL == "" && desc.PosterURL == "" {
			return domain.MediaDescriptor{}, false
		}
	}

	desc.ID = firstString(item, idFields...)
	if desc.ID == "" {
		desc.ID = contentID(desc)
	}
	return desc, true
}

// variants collects every declared variant without ranking them.
func variants(item map[string]any) []domain.Variant {
	raw := objects(item["variants"])
	if len(raw) == 0 {
		raw = objects(path(item, "video_info", "variants"))
	}
	if len(raw) == 0 {
		raw = objects(path(item, "videoInfo", "variants"))
	}

	out := lo.FilterMap(raw, func(v map[string]any, _ int) (domain.Variant, bool) {
		variant := domain.Variant{
			ContentType: firstString(v, "content_type", "contentType"),
			Bitrate:     intOf(v["bitrate"]),
			URL:         stringOf(v["url"]),
		}
		return variant, variant.URL != ""
	})
	return out
}

// contentID derives a stable id from the item's first known URL so repeated
// renders of the same item share one cache entry.
func contentID(desc domain.MediaDescriptor) string {
	seed := desc.SourceURL
	if seed == "" && len(desc.Variants) > 0 {
		seed = desc.Variants[0].URL
	}
	if seed == "" {
		seed = desc.PosterURL
	}
	sum := sha256.Sum256([]byte(string(desc.Kind) + "|" + seed))
	return "m_" + hex.EncodeToString(sum[:])[:16]
}
