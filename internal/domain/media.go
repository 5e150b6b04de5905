package domain

import "time"

// MediaKind classifies an attached media item.
type MediaKind string

const (
	MediaPhoto         MediaKind = "photo"
	MediaVideo         MediaKind = "video"
	MediaAnimatedImage MediaKind = "animated_gif"
)

// Playable reports whether the kind is rendered from video variants.
func (k MediaKind) Playable() bool {
	return k == MediaVideo || k == MediaAnimatedImage
}

// Variant is one encoding of a video-like media item.
type Variant struct {
	ContentType string `json:"content_type"`
	Bitrate     int    `json:"bitrate"`
	URL         string `json:"url"`
}

// MediaDescriptor is the normalized form of one attached media item.
type MediaDescriptor struct {
	Kind MediaKind `json:"kind"`
	ID   string    `json:"id"`

	// SourceURL is the direct image URL for photos; for video-like kinds it is
	// the first non-empty legacy media URL and only used when no mp4 variant exists.
	SourceURL string `json:"source_url,omitempty"`

	// PosterURL is a still preview for video-like kinds.
	PosterURL string `json:"poster_url,omitempty"`

	Variants []Variant `json:"variants,omitempty"`
}

// CacheEntry is the persisted copy of one downloaded media item.
type CacheEntry struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Payload     []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	CachedAt    time.Time `json:"cached_at"`
}
