package postcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"perch/internal/domain"
	"perch/internal/scraper"
)

// PostFetcher looks up a post through the data API.
type PostFetcher interface {
	FetchPost(ctx context.Context, credential, postID string) (domain.PostRecord, error)
}

type State int

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "loading"
	}
}

// View is what a render pass shows for one post.
type View struct {
	State  State
	Record *domain.PostRecord
}

// Loader serves post records from the cache and populates misses in the
// background, at most one fetch per post id at a time.
type Loader struct {
	cache   *Cache
	api     PostFetcher
	scraper scraper.Scraper
	log     logrus.FieldLogger

	flights singleflight.Group
	pending sync.WaitGroup

	mu       sync.RWMutex
	onUpdate []func(postID string)
}

// NewLoader creates a loader. scr is used when no credential is configured
// and may be nil.
func NewLoader(cache *Cache, api PostFetcher, scr scraper.Scraper, logger logrus.FieldLogger) *Loader {
	return &Loader{
		cache:   cache,
		api:     api,
		scraper: scr,
		log:     logger.WithField("component", "postloader"),
	}
}

// OnUpdate registers fn to be called after a background fetch stores a record.
func (l *Loader) OnUpdate(fn func(postID string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onUpdate = append(l.onUpdate, fn)
}

func (l *Loader) notify(postID string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, fn := range l.onUpdate {
		fn(postID)
	}
}

// Render returns the cached state of postID. On a miss it starts a
// background fetch and reports Loading.
func (l *Loader) Render(ctx context.Context, credential, postID string) (View, error) {
	rec, err := l.cache.Get(ctx, postID)
	switch {
	case err == nil && rec.Failed():
		return View{State: Failed, Record: rec}, nil
	case err == nil:
		return View{State: Ready, Record: rec}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return View{}, err
	}

	if !l.canFetch(credential) {
		failed := domain.NewFailedRecord(postID, domain.ErrMissingCredential, time.Now())
		return View{State: Failed, Record: &failed}, nil
	}
	l.load(ctx, credential, postID, false)
	return View{State: Loading}, nil
}

// Prefetch starts background fetches for every id without a usable record.
// Failed records are retried here, unlike in Render.
func (l *Loader) Prefetch(ctx context.Context, credential string, postIDs []string) int {
	if !l.canFetch(credential) {
		return 0
	}
	started := 0
	for _, id := range postIDs {
		rec, err := l.cache.Get(ctx, id)
		if err == nil && !rec.Failed() {
			continue
		}
		l.load(ctx, credential, id, true)
		started++
	}
	if started > 0 {
		l.log.WithField("count", started).Info("Prefetching posts")
	}
	return started
}

// Wait blocks until all background fetches have finished.
func (l *Loader) Wait() {
	l.pending.Wait()
}

func (l *Loader) canFetch(credential string) bool {
	return credential != "" || l.scraper != nil
}

// load fetches postID in the background. A flight that starts after
// another one already stored a record reuses it; failed records are only
// replaced when retryFailed is set.
func (l *Loader) load(ctx context.Context, credential, postID string, retryFailed bool) {
	bg := context.WithoutCancel(ctx)
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		_, _, shared := l.flights.Do(postID, func() (any, error) {
			if rec, err := l.cache.Get(bg, postID); err == nil && (!rec.Failed() || !retryFailed) {
				return *rec, nil
			}
			rec, err := l.fetchAndStore(bg, credential, postID)
			l.notify(postID)
			return rec, err
		})
		if shared {
			l.log.WithField("post_id", postID).Debug("Joined in-flight post fetch")
		}
	}()
}

func (l *Loader) fetchAndStore(ctx context.Context, credential, postID string) (domain.PostRecord, error) {
	log := l.log.WithField("post_id", postID)

	rec, err := l.fetch(ctx, credential, postID)
	if err != nil {
		log.WithError(err).Warn("Post fetch failed, storing failure")
		rec = domain.NewFailedRecord(postID, err, time.Now())
	}
	if putErr := l.cache.Put(ctx, rec); putErr != nil {
		log.WithError(putErr).Error("Failed to store post record")
		if err == nil {
			err = putErr
		}
	}
	return rec, err
}

func (l *Loader) fetch(ctx context.Context, credential, postID string) (domain.PostRecord, error) {
	if credential != "" {
		return l.api.FetchPost(ctx, credential, postID)
	}
	if l.scraper != nil {
		return l.scraper.ScrapePost(ctx, "https://twitter.com/i/status/"+postID)
	}
	return domain.PostRecord{}, domain.ErrMissingCredential
}
