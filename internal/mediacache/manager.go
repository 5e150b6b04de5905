// Package mediacache resolves media descriptors to displayable URLs and
// keeps downloaded media in the local store.
package mediacache

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"perch/internal/domain"
	"perch/internal/storage"
)

// Resolution is the reference to display right now for one media item.
type Resolution struct {
	// URL is the standing reference: local when cached, otherwise the proxied remote URL.
	URL     string
	Local   bool
	Overlay bool

	// Task is the background download started on a cache miss, nil on a hit.
	Task *Task
}

// Options configures how references are built.
type Options struct {
	// PublicBaseURL is where cached media is served from (/media/{id}).
	PublicBaseURL string
	// ProxyBaseURL hosts the /fetch relay.
	ProxyBaseURL string
}

// Manager implements the cache-through resolution protocol.
type Manager struct {
	store   storage.MediaStore
	fetcher Fetcher
	opts    Options
	log     logrus.FieldLogger

	flights singleflight.Group
	pending sync.WaitGroup
}

func NewManager(store storage.MediaStore, fetcher Fetcher, opts Options, logger logrus.FieldLogger) *Manager {
	return &Manager{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		log:     logger.WithField("component", "media_cache"),
	}
}

// LocalURL is the reference served from the local cache for id.
func (m *Manager) LocalURL(id string) string {
	return strings.TrimRight(m.opts.PublicBaseURL, "/") + "/media/" + url.PathEscape(id)
}

// ResolveDisplayURL returns a reference for desc without waiting on the
// network. On a cache hit the local reference is returned and nothing is
// fetched. On a miss the proxied remote URL is returned and the bytes are
// downloaded in the background; when they are stored, ref (if still live)
// receives the local reference. Failed downloads are logged and not retried.
func (m *Manager) ResolveDisplayURL(ctx context.Context, desc domain.MediaDescriptor, ref *Ref) (Resolution, error) {
	sel, err := Select(desc)
	if err != nil {
		return Resolution{}, err
	}
	log := m.log.WithFields(logrus.Fields{"media_id": desc.ID, "kind": desc.Kind})

	_, err = m.store.GetMedia(ctx, desc.ID)
	switch {
	case err == nil:
		log.Debug("Media cache hit")
		return Resolution{URL: m.LocalURL(desc.ID), Local: true, Overlay: sel.Overlay}, nil
	case !errors.Is(err, domain.ErrNotFound):
		log.WithError(err).Warn("Media cache lookup failed, treating as miss")
	}

	task := m.download(ctx, desc.ID, sel.URL, ref)
	return Resolution{
		URL:     ProxyURL(m.opts.ProxyBaseURL, sel.URL),
		Overlay: sel.Overlay,
		Task:    task,
	}, nil
}

// download runs detached from ctx cancellation: a download whose display is
// gone still completes and caches. Concurrent downloads of one id share a flight.
func (m *Manager) download(ctx context.Context, id, sourceURL string, ref *Ref) *Task {
	task := newTask()
	bg := context.WithoutCancel(ctx)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		res := <-m.flights.DoChan(id, func() (any, error) {
			return nil, m.fetchAndStore(bg, id, sourceURL)
		})
		if res.Err != nil {
			m.log.WithError(res.Err).WithFields(logrus.Fields{
				"media_id": id,
				"url":      sourceURL,
			}).Warn("Media download failed, keeping proxy reference")
			task.finish("", res.Err)
			return
		}

		local := m.LocalURL(id)
		if !ref.Apply(local) && ref != nil {
			m.log.WithField("media_id", id).Debug("Display released before upgrade")
		}
		task.finish(local, nil)
	}()
	return task
}

func (m *Manager) fetchAndStore(ctx context.Context, id, sourceURL string) error {
	// Another flight may have finished between the lookup and now.
	if _, err := m.store.GetMedia(ctx, id); err == nil {
		return nil
	}

	payload, contentType, err := m.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return err
	}
	if _, err := m.store.PutMedia(ctx, id, sourceURL, payload, contentType); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"media_id": id,
		"bytes":    len(payload),
	}).Info("Media cached")
	return nil
}

// Wait blocks until every background download has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}
