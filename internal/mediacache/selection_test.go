package mediacache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/domain"
)

func TestSelect_HighestBitrateMP4(t *testing.T) {
	desc := domain.MediaDescriptor{
		Kind: domain.MediaVideo,
		Variants: []domain.Variant{
			{ContentType: "application/x-mpegURL", URL: "https://v/list.m3u8", Bitrate: 9000000},
			{ContentType: "video/mp4", Bitrate: 832000, URL: "https://v/832.mp4"},
			{ContentType: "video/mp4", Bitrate: 2176000, URL: "https://v/2176.mp4"},
			{ContentType: "video/mp4", Bitrate: 256000, URL: "https://v/256.mp4"},
		},
		SourceURL: "https://img/legacy.jpg",
	}

	sel, err := Select(desc)
	require.NoError(t, err)
	assert.Equal(t, "https://v/2176.mp4", sel.URL)
	assert.False(t, sel.Overlay)
}

func TestSelect_BitrateTieKeepsFirst(t *testing.T) {
	desc := domain.MediaDescriptor{
		Kind: domain.MediaAnimatedImage,
		Variants: []domain.Variant{
			{ContentType: "video/mp4", Bitrate: 0, URL: "https://v/first.mp4"},
			{ContentType: "video/mp4", Bitrate: 0, URL: "https://v/second.mp4"},
		},
	}

	sel, err := Select(desc)
	require.NoError(t, err)
	assert.Equal(t, "https://v/first.mp4", sel.URL)
}

func TestSelect_FallbackChain(t *testing.T) {
	noMP4 := []domain.Variant{{ContentType: "application/x-mpegURL", URL: "https://v/list.m3u8"}}

	sel, err := Select(domain.MediaDescriptor{Kind: domain.MediaVideo, Variants: noMP4, SourceURL: "https://img/src.jpg", PosterURL: "https://img/poster.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "https://img/src.jpg", sel.URL)
	assert.False(t, sel.Overlay)

	sel, err = Select(domain.MediaDescriptor{Kind: domain.MediaVideo, Variants: noMP4, PosterURL: "https://img/poster.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "https://img/poster.jpg", sel.URL)
	assert.True(t, sel.Overlay, "poster-only video is shown as a still with a play overlay")

	_, err = Select(domain.MediaDescriptor{Kind: domain.MediaVideo, Variants: noMP4})
	assert.ErrorIs(t, err, domain.ErrUnresolvable)
}

func TestSelect_Photo(t *testing.T) {
	sel, err := Select(domain.MediaDescriptor{Kind: domain.MediaPhoto, SourceURL: "https://img/1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", sel.URL)

	_, err = Select(domain.MediaDescriptor{Kind: domain.MediaPhoto})
	assert.ErrorIs(t, err, domain.ErrUnresolvable)
}
