package links

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/cloud"
	"perch/internal/domain"
	"perch/internal/storage"
)

type fakeVerifier struct{ bad string }

func (v fakeVerifier) VerifyCredential(_ context.Context, credential string) error {
	if credential == v.bad {
		return domain.ErrInvalidCredential
	}
	return nil
}

type recorder struct {
	mu         sync.Mutex
	prefetched []string
	deleted    []string
}

func (r *recorder) Prefetch(_ context.Context, _ string, ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefetched = append(r.prefetched, ids...)
	return len(ids)
}

func (r *recorder) Delete(_ context.Context, postID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, postID)
	return nil
}

type testEnv struct {
	svc   *Service
	repo  *storage.BadgerRepository
	sync  *cloud.Syncer
	calls *recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := storage.NewBadgerRepository(t.TempDir(), log)
	t.Cleanup(func() { _ = repo.Close() })
	syncer := cloud.NewSyncer(nil, repo, log)
	calls := &recorder{}

	svc := NewService(Deps{
		Links:       repo,
		Credentials: repo,
		Verifier:    fakeVerifier{bad: "bad"},
		Prefetcher:  calls,
		Posts:       calls,
		Cloud:       syncer,
	}, log)
	return testEnv{svc: svc, repo: repo, sync: syncer, calls: calls}
}

func TestService_SaveRejectsDuplicatesAcrossHosts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	saved, err := env.svc.Save(ctx, 1, "https://twitter.com/a/status/9")
	require.NoError(t, err)
	assert.Equal(t, "9", saved.PostID)

	_, err = env.svc.Save(ctx, 1, "https://x.com/a/status/9")
	assert.ErrorIs(t, err, domain.ErrDuplicateLink)

	list, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, []string{"9"}, env.calls.prefetched)
}

func TestService_SaveRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, raw := range []string{"", "not a url", "https://example.com/a/status/1", "https://twitter.com/a"} {
		_, err := env.svc.Save(ctx, 1, raw)
		assert.ErrorIs(t, err, domain.ErrInvalidURL, raw)
	}
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Save(ctx, 1, "https://twitter.com/a/status/1")
	require.NoError(t, err)
	_, err = env.svc.Save(ctx, 1, "https://twitter.com/a/status/2")
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, 1, "https://x.com/a/status/1?s=20"))
	list, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].PostID)
	assert.Equal(t, []string{"1"}, env.calls.deleted)

	assert.ErrorIs(t, env.svc.Delete(ctx, 1, "https://twitter.com/a/status/1"), domain.ErrNotFound)
}

func TestService_SetCredential(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Credential(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	assert.ErrorIs(t, env.svc.SetCredential(ctx, 1, "bad"), domain.ErrInvalidCredential)
	assert.ErrorIs(t, env.svc.SetCredential(ctx, 1, "   "), domain.ErrMissingCredential)

	require.NoError(t, env.svc.SetCredential(ctx, 1, " good "))
	got, err := env.svc.Credential(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "good", got)
}

func TestService_SetCredentialRequeuesSavedPosts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.repo.SaveLinks(ctx, 1, []domain.SavedLink{
		{URL: "https://twitter.com/a/status/1", PostID: "1"},
		{URL: "https://twitter.com/a/status/2", PostID: "2"},
	}))

	require.NoError(t, env.svc.SetCredential(ctx, 1, "good"))
	assert.Equal(t, []string{"1", "2"}, env.calls.prefetched)

	// Nothing saved, nothing to fetch.
	require.NoError(t, env.svc.SetCredential(ctx, 2, "good"))
	assert.Len(t, env.calls.prefetched, 2)
}

func TestService_ClearCredential(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.svc.SetCredential(ctx, 1, "good"))
	_, err := env.svc.Save(ctx, 1, "https://twitter.com/a/status/1")
	require.NoError(t, err)

	require.NoError(t, env.svc.ClearCredential(ctx, 1))
	_, err = env.svc.Credential(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	owners, err := env.repo.ListOwners(ctx)
	require.NoError(t, err)
	assert.NotContains(t, owners, int64(1))

	list, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1, "links survive")

	assert.NoError(t, env.svc.ClearCredential(ctx, 1), "clearing twice is harmless")
}

func TestService_Sync(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Sync(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	require.NoError(t, env.svc.SetCredential(ctx, 1, "key"))
	_, err = env.svc.Save(ctx, 1, "https://twitter.com/a/status/1")
	require.NoError(t, err)

	// Another device pushed a different list under the same credential.
	remote := []domain.SavedLink{
		{URL: "https://twitter.com/b/status/5", PostID: "5"},
		{URL: "https://twitter.com/a/status/1", PostID: "1"},
	}
	require.NoError(t, env.sync.Save(ctx, 2, "key", remote))

	res, err := env.svc.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Total: 2, Added: 1, Pushed: true}, res)

	list, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "1"}, []string{list[0].PostID, list[1].PostID})
	assert.Contains(t, env.calls.prefetched, "5")

	pushed, err := env.sync.Load(ctx, 1, "key")
	require.NoError(t, err)
	assert.Len(t, pushed, 2)
}

func TestService_SyncUploadsLocalWhenRemoteEmpty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.svc.SetCredential(ctx, 1, "fresh"))
	require.NoError(t, env.repo.SaveLinks(ctx, 1, []domain.SavedLink{{URL: "https://twitter.com/a/status/3", PostID: "3"}}))

	res, err := env.svc.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Total: 1, Pushed: true}, res)

	pushed, err := env.sync.Load(ctx, 1, "fresh")
	require.NoError(t, err)
	assert.Len(t, pushed, 1)
}
