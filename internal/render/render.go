// Package render turns saved links into display models.
package render

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/mediacache"
	"perch/internal/postcache"
)

type PostLoader interface {
	Render(ctx context.Context, credential, postID string) (postcache.View, error)
}

type MediaResolver interface {
	ResolveDisplayURL(ctx context.Context, desc domain.MediaDescriptor, ref *mediacache.Ref) (mediacache.Resolution, error)
}

type Media struct {
	Kind    domain.MediaKind `json:"kind"`
	URL     string           `json:"url,omitempty"`
	Local   bool             `json:"local"`
	Overlay bool             `json:"overlay,omitempty"`
	Error   string           `json:"error,omitempty"`

	task *mediacache.Task
}

// Pending returns the download upgrading this element, or nil.
func (m Media) Pending() *mediacache.Task { return m.task }

type LinkView struct {
	Link  domain.SavedLink   `json:"link"`
	State string             `json:"state"`
	Post  *domain.PostRecord `json:"post,omitempty"`
	Media []Media            `json:"media,omitempty"`
}

type Renderer struct {
	posts PostLoader
	media MediaResolver
	log   logrus.FieldLogger
}

func NewRenderer(posts PostLoader, media MediaResolver, logger logrus.FieldLogger) *Renderer {
	return &Renderer{
		posts: posts,
		media: media,
		log:   logger.WithField("component", "render"),
	}
}

// Link renders one link. Media is resolved only for ready posts.
func (r *Renderer) Link(ctx context.Context, credential string, link domain.SavedLink) (LinkView, error) {
	view, err := r.posts.Render(ctx, credential, link.PostID)
	if err != nil {
		return LinkView{}, err
	}

	out := LinkView{Link: link, State: view.State.String(), Post: view.Record}
	if view.State != postcache.Ready {
		return out, nil
	}

	for _, desc := range view.Record.Media {
		res, err := r.media.ResolveDisplayURL(ctx, desc, nil)
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"post_id": link.PostID, "media_id": desc.ID}).Debug("Media not displayable")
			out.Media = append(out.Media, Media{Kind: desc.Kind, Error: err.Error()})
			continue
		}
		out.Media = append(out.Media, Media{
			Kind:    desc.Kind,
			URL:     res.URL,
			Local:   res.Local,
			Overlay: res.Overlay,
			task:    res.Task,
		})
	}
	return out, nil
}

// Links renders every link in order, stopping at the first storage error.
func (r *Renderer) Links(ctx context.Context, credential string, links []domain.SavedLink) ([]LinkView, error) {
	out := make([]LinkView, 0, len(links))
	for _, l := range links {
		v, err := r.Link(ctx, credential, l)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Warm resolves the media of a stored post so that anything not cached yet
// starts downloading. It returns the number of media items still served
// remotely.
func (r *Renderer) Warm(ctx context.Context, postID string) int {
	v, err := r.Link(ctx, "", domain.SavedLink{PostID: postID})
	if err != nil {
		r.log.WithError(err).WithField("post_id", postID).Warn("Failed to warm media")
		return 0
	}
	return lo.CountBy(v.Media, func(m Media) bool { return !m.Local && m.Error == "" })
}
