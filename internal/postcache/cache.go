// Package postcache keeps fetched post records and loads missing ones in
// the background.
package postcache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/storage"
)

const memoryTTL = 30 * time.Minute

// Cache is a two level post cache: an in-process ristretto layer in front
// of a persistent PostStore. The persistent layer is authoritative.
type Cache struct {
	memory *marshaler.Marshaler
	store  storage.PostStore
	log    logrus.FieldLogger
}

func NewCache(postStore storage.PostStore, logger logrus.FieldLogger) (*Cache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	manager := cache.New[any](ristretto_store.NewRistretto(rc))
	return &Cache{
		memory: marshaler.New(manager),
		store:  postStore,
		log:    logger.WithField("component", "postcache"),
	}, nil
}

func memoryKey(postID string) string { return "post#" + postID }

// Get returns the record for postID or domain.ErrNotFound.
func (c *Cache) Get(ctx context.Context, postID string) (*domain.PostRecord, error) {
	if v, err := c.memory.Get(ctx, memoryKey(postID), new(domain.PostRecord)); err == nil {
		if rec, ok := v.(*domain.PostRecord); ok {
			return rec, nil
		}
	}

	rec, err := c.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, *rec)
	return rec, nil
}

// Put persists rec, replacing any earlier record for the same post.
func (c *Cache) Put(ctx context.Context, rec domain.PostRecord) error {
	if err := c.store.PutPost(ctx, rec); err != nil {
		return err
	}
	c.remember(ctx, rec)
	return nil
}

func (c *Cache) Delete(ctx context.Context, postID string) error {
	if err := c.memory.Delete(ctx, memoryKey(postID)); err != nil {
		c.log.WithError(err).WithField("post_id", postID).Debug("Memory cache delete failed")
	}
	return c.store.DeletePost(ctx, postID)
}

func (c *Cache) remember(ctx context.Context, rec domain.PostRecord) {
	err := c.memory.Set(ctx, memoryKey(rec.PostID), rec,
		store.WithExpiration(memoryTTL),
		store.WithCost(1),
	)
	if err != nil {
		c.log.WithError(err).WithField("post_id", rec.PostID).Debug("Memory cache set failed")
	}
}
