package mediacache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/domain"
)

// memStore is an in-memory MediaStore.
type memStore struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	puts    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]domain.CacheEntry)}
}

func (s *memStore) GetMedia(_ context.Context, id string) (*domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *memStore) PutMedia(_ context.Context, id, sourceURL string, payload []byte, contentType string) (domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := domain.CacheEntry{ID: id, SourceURL: sourceURL, Payload: payload, ContentType: contentType, ByteSize: int64(len(payload)), CachedAt: time.Now()}
	s.entries[id] = e
	s.puts++
	return e, nil
}

// stubFetcher counts calls and optionally blocks until released.
type stubFetcher struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("bytes of " + rawURL), "image/jpeg", nil
}

func newTestManager(store *memStore, fetcher Fetcher) *Manager {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewManager(store, fetcher, Options{
		PublicBaseURL: "http://perch.local",
		ProxyBaseURL:  "http://perch.local/",
	}, l)
}

func waitTask(t *testing.T, task *Task) (string, error) {
	t.Helper()
	require.NotNil(t, task)
	select {
	case <-task.Done():
		return task.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("download task did not finish")
		return "", nil
	}
}

var photo = domain.MediaDescriptor{Kind: domain.MediaPhoto, ID: "k1", SourceURL: "https://img/1.jpg"}

func TestResolveDisplayURL_HitNeverFetches(t *testing.T) {
	store := newMemStore()
	_, _ = store.PutMedia(context.Background(), "k1", photo.SourceURL, []byte("cached"), "image/jpeg")
	fetcher := &stubFetcher{}
	m := newTestManager(store, fetcher)

	res, err := m.ResolveDisplayURL(context.Background(), photo, nil)
	require.NoError(t, err)
	m.Wait()

	assert.True(t, res.Local)
	assert.Equal(t, "http://perch.local/media/k1", res.URL)
	assert.Nil(t, res.Task)
	assert.Zero(t, fetcher.calls.Load())
}

func TestResolveDisplayURL_MissReturnsProxyThenUpgrades(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{}
	m := newTestManager(store, fetcher)

	var applied atomic.Value
	ref := NewRef(func(url string) { applied.Store(url) })

	res, err := m.ResolveDisplayURL(context.Background(), photo, ref)
	require.NoError(t, err)
	assert.False(t, res.Local)
	assert.Equal(t, "http://perch.local/fetch?url=https%3A%2F%2Fimg%2F1.jpg", res.URL)

	local, err := waitTask(t, res.Task)
	require.NoError(t, err)
	assert.Equal(t, "http://perch.local/media/k1", local)
	m.Wait()
	assert.Equal(t, local, applied.Load())

	entry, err := store.GetMedia(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", entry.SourceURL)

	// The next render is served locally.
	res, err = m.ResolveDisplayURL(context.Background(), photo, nil)
	require.NoError(t, err)
	assert.True(t, res.Local)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestResolveDisplayURL_ReleasedRefStillCaches(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{release: make(chan struct{})}
	m := newTestManager(store, fetcher)

	var applied atomic.Bool
	ref := NewRef(func(string) { applied.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	res, err := m.ResolveDisplayURL(ctx, photo, ref)
	require.NoError(t, err)

	ref.Release()
	cancel()
	close(fetcher.release)

	_, err = waitTask(t, res.Task)
	require.NoError(t, err)
	m.Wait()

	assert.False(t, applied.Load(), "released display must not be mutated")
	_, err = store.GetMedia(context.Background(), "k1")
	assert.NoError(t, err, "download completes and caches regardless")
}

func TestResolveDisplayURL_FailureKeepsProxyReference(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{err: errors.New("status 404")}
	m := newTestManager(store, fetcher)

	var applied atomic.Bool
	res, err := m.ResolveDisplayURL(context.Background(), photo, NewRef(func(string) { applied.Store(true) }))
	require.NoError(t, err)

	_, err = waitTask(t, res.Task)
	assert.Error(t, err)
	m.Wait()

	assert.False(t, applied.Load())
	assert.Equal(t, int32(1), fetcher.calls.Load(), "no automatic retry")
	_, err = store.GetMedia(context.Background(), "k1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveDisplayURL_ConcurrentMissesDownloadOnce(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{release: make(chan struct{})}
	m := newTestManager(store, fetcher)

	var tasks []*Task
	for i := 0; i < 5; i++ {
		res, err := m.ResolveDisplayURL(context.Background(), photo, nil)
		require.NoError(t, err)
		tasks = append(tasks, res.Task)
	}
	close(fetcher.release)

	for _, task := range tasks {
		_, err := waitTask(t, task)
		require.NoError(t, err)
	}
	m.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, store.puts)
}

func TestResolveDisplayURL_VideoUsesBestVariant(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{}
	m := newTestManager(store, fetcher)

	video := domain.MediaDescriptor{
		Kind: domain.MediaVideo,
		ID:   "v1",
		Variants: []domain.Variant{
			{ContentType: "video/mp4", Bitrate: 100, URL: "https://v/low.mp4"},
			{ContentType: "video/mp4", Bitrate: 900, URL: "https://v/high.mp4"},
		},
	}
	res, err := m.ResolveDisplayURL(context.Background(), video, nil)
	require.NoError(t, err)
	_, err = waitTask(t, res.Task)
	require.NoError(t, err)

	entry, err := store.GetMedia(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "https://v/high.mp4", entry.SourceURL)

	_, err = m.ResolveDisplayURL(context.Background(), domain.MediaDescriptor{Kind: domain.MediaVideo, ID: "none"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnresolvable)
}

func TestProxyFetcher(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fetch", r.URL.Path)
		switch r.URL.Query().Get("url") {
		case "https://img/ok.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(png)
		case "https://img/typed.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := NewProxyFetcher(srv.URL, srv.Client())

	payload, ct, err := f.Fetch(context.Background(), "https://img/ok.png")
	require.NoError(t, err)
	assert.Equal(t, png, payload)
	assert.Equal(t, "image/png", ct)

	_, ct, err = f.Fetch(context.Background(), "https://img/typed.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	_, _, err = f.Fetch(context.Background(), "https://img/missing.png")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
