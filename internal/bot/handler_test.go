package bot

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"perch/internal/cloud"
	"perch/internal/domain"
	"perch/internal/links"
	"perch/internal/render"
	"perch/internal/storage"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyCredential(_ context.Context, credential string) error {
	if credential == "bad" {
		return domain.ErrInvalidCredential
	}
	return nil
}

type fakeRenderer struct{}

func (fakeRenderer) Links(_ context.Context, _ string, items []domain.SavedLink) ([]render.LinkView, error) {
	out := make([]render.LinkView, 0, len(items))
	for i, l := range items {
		v := render.LinkView{Link: l, State: "loading"}
		if i == 0 {
			v.State = "ready"
			v.Post = &domain.PostRecord{PostID: l.PostID, Text: "first post", Author: domain.Author{Handle: "jane"}}
		}
		out = append(out, v)
	}
	return out, nil
}

func newTestHandler(t *testing.T, limiter Limiter) *Handler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := storage.NewBadgerRepository(t.TempDir(), log)
	t.Cleanup(func() { _ = repo.Close() })

	svc := links.NewService(links.Deps{
		Links:       repo,
		Credentials: repo,
		Verifier:    fakeVerifier{},
		Cloud:       cloud.NewSyncer(nil, repo, log),
	}, log)
	return &Handler{links: svc, renderer: fakeRenderer{}, limiter: limiter, log: log}
}

func TestReply_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t, nil)

	assert.Equal(t, welcomeMessage, h.reply(ctx, 1, "/start"))
	assert.Contains(t, h.reply(ctx, 1, "/list"), "no saved posts")

	assert.Equal(t, "Saved https://twitter.com/a/status/9", h.reply(ctx, 1, "look https://twitter.com/a/status/9"))
	assert.Equal(t, "Already saved: https://x.com/a/status/9", h.reply(ctx, 1, "https://x.com/a/status/9"))
	assert.Contains(t, h.reply(ctx, 1, "hello there"), "post link")

	h.reply(ctx, 1, "https://twitter.com/b/status/10")
	list := h.reply(ctx, 1, "/list@perchbot")
	assert.Contains(t, list, "Saved posts (2)")
	assert.Contains(t, list, "@jane: first post")
	assert.Contains(t, list, "(loading…)")

	assert.Equal(t, "Deleted.", h.reply(ctx, 1, "/delete https://twitter.com/a/status/9"))
	assert.Equal(t, "That post is not in your list.", h.reply(ctx, 1, "/delete https://twitter.com/a/status/9"))
	assert.Contains(t, h.reply(ctx, 1, "/delete"), "Usage")
}

func TestReply_KeyAndSync(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t, nil)

	assert.Contains(t, h.reply(ctx, 1, "/sync"), "/key first")
	assert.Contains(t, h.reply(ctx, 1, "/key"), "Usage")
	assert.Contains(t, h.reply(ctx, 1, "/key bad"), "rejected")
	assert.Contains(t, h.reply(ctx, 1, "/key good"), "API key saved")
	assert.Equal(t, "Synced. 0 saved posts, 0 new from the cloud.", h.reply(ctx, 1, "/sync"))
}

func TestReply_Forget(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t, nil)

	assert.Contains(t, h.reply(ctx, 1, "/key good"), "API key saved")
	assert.Contains(t, h.reply(ctx, 1, "https://twitter.com/a/status/9"), "Saved")

	assert.Contains(t, h.reply(ctx, 1, "/forget"), "API key removed")
	_, err := h.links.Credential(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
	assert.Contains(t, h.reply(ctx, 1, "/sync"), "/key first")
	assert.Contains(t, h.reply(ctx, 1, "/list"), "Saved posts (1)")

	assert.Contains(t, h.reply(ctx, 1, "/forget@perchbot"), "API key removed")
}

func TestIsKeyMessage(t *testing.T) {
	assert.True(t, isKeyMessage("/key abc"))
	assert.True(t, isKeyMessage("/key@perchbot abc"))
	assert.True(t, isKeyMessage("/key"))
	assert.False(t, isKeyMessage("/keyboard"))
	assert.False(t, isKeyMessage("/keys abc"))
	assert.False(t, isKeyMessage("/list"))
}

func TestReply_RateLimited(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t, NewInMemoryLimiter(1, time.Hour, 2))

	assert.Equal(t, welcomeMessage, h.reply(ctx, 1, "/start"))
	assert.Equal(t, welcomeMessage, h.reply(ctx, 1, "/start"))
	assert.Equal(t, slowDownMessage, h.reply(ctx, 1, "/start"))
	assert.Equal(t, welcomeMessage, h.reply(ctx, 2, "/start"), "limits are per user")
}
