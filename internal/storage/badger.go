package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
)

// BadgerRepository implements the local stores on top of BadgerDB.
// The database is opened lazily on first use.
type BadgerRepository struct {
	path string
	log  logrus.FieldLogger

	mu     sync.Mutex
	db     *badger.DB
	closed bool
}

// NewBadgerRepository creates a repository for the database at dbPath.
// Nothing touches the disk until the first operation or EnsureOpen.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) *BadgerRepository {
	return &BadgerRepository{
		path: dbPath,
		log:  logger.WithField("component", "repository"),
	}
}

// EnsureOpen opens the database once and returns the shared handle.
// Concurrent callers converge on the same handle. A failed open is not
// memoized, so the next call tries again. Once Close has run every call
// fails with badger.ErrDBClosed.
func (r *BadgerRepository) EnsureOpen() (*badger.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, badger.ErrDBClosed
	}
	if r.db != nil {
		return r.db, nil
	}

	opts := badger.DefaultOptions(r.path)
	opts.Logger = &badgerLogger{r.log.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		r.log.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", r.path, err)
	}
	r.log.WithField("path", r.path).Info("BadgerDB opened")
	r.db = db
	return db, nil
}

// Close closes the database if it was ever opened. The repository cannot be
// reopened afterwards.
func (r *BadgerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.db == nil {
		return nil
	}
	r.log.Info("Closing BadgerDB...")
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.db = nil
	r.log.Info("BadgerDB closed.")
	return nil
}

// Key layout:
//
//	media:{id}:meta         CacheEntry metadata (JSON)
//	media:{id}:data         raw bytes
//	user:{owner}:links      ordered []SavedLink (JSON)
//	user:{owner}:credential credential string
//	user:{owner}:cloud      remote document handle
//	mirror:{key}            cloud document mirror (JSON)
func mediaMetaKey(id string) []byte { return []byte("media:" + id + ":meta") }
func mediaDataKey(id string) []byte { return []byte("media:" + id + ":data") }

func userKey(owner int64, field string) []byte {
	return []byte(fmt.Sprintf("user:%d:%s", owner, field))
}

func mirrorKey(key string) []byte { return []byte("mirror:" + key) }

const credentialField = "credential"

// get copies the value stored at key, translating a missing key to domain.ErrNotFound.
func (r *BadgerRepository) get(key []byte) ([]byte, error) {
	db, err := r.EnsureOpen()
	if err != nil {
		return nil, err
	}

	var val []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

func (r *BadgerRepository) set(key, val []byte) error {
	db, err := r.EnsureOpen()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// GetMedia returns the cached media entry for id.
func (r *BadgerRepository) GetMedia(ctx context.Context, id string) (*domain.CacheEntry, error) {
	db, err := r.EnsureOpen()
	if err != nil {
		return nil, err
	}

	var entry domain.CacheEntry
	err = db.View(func(txn *badger.Txn) error {
		meta, err := txn.Get(mediaMetaKey(id))
		if err != nil {
			return err
		}
		if err := meta.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("failed to unmarshal media metadata: %w", err)
		}

		data, err := txn.Get(mediaDataKey(id))
		if err != nil {
			return err
		}
		entry.Payload, err = data.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		r.log.WithError(err).WithField("media_id", id).Error("Failed to read media from BadgerDB")
		return nil, fmt.Errorf("failed to get media %s: %w", id, err)
	}
	return &entry, nil
}

// PutMedia stores payload for id. A later put for the same id replaces the
// metadata and bytes together.
func (r *BadgerRepository) PutMedia(ctx context.Context, id, sourceURL string, payload []byte, contentType string) (domain.CacheEntry, error) {
	log := r.log.WithFields(logrus.Fields{
		"media_id": id,
		"bytes":    len(payload),
	})

	entry := domain.CacheEntry{
		ID:          id,
		SourceURL:   sourceURL,
		Payload:     payload,
		ContentType: contentType,
		ByteSize:    int64(len(payload)),
		CachedAt:    time.Now(),
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("failed to marshal media metadata: %w", err)
	}

	db, err := r.EnsureOpen()
	if err != nil {
		return domain.CacheEntry{}, err
	}
	err = db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(mediaMetaKey(id), meta)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(mediaDataKey(id), payload))
	})
	if err != nil {
		log.WithError(err).Error("Failed to save media to BadgerDB")
		return domain.CacheEntry{}, fmt.Errorf("failed to save media %s: %w", id, err)
	}

	log.Debug("Media cached")
	return entry, nil
}

// GetLinks returns the owner's link list in saved order.
func (r *BadgerRepository) GetLinks(ctx context.Context, owner int64) ([]domain.SavedLink, error) {
	val, err := r.get(userKey(owner, "links"))
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.SavedLink{}, nil
	}
	if err != nil {
		return nil, err
	}

	var links []domain.SavedLink
	if err := json.Unmarshal(val, &links); err != nil {
		r.log.WithError(err).WithField("owner", owner).Error("Failed to unmarshal links from DB")
		return nil, fmt.Errorf("failed to unmarshal links for owner %d: %w", owner, err)
	}
	return links, nil
}

// SaveLinks replaces the owner's link list.
func (r *BadgerRepository) SaveLinks(ctx context.Context, owner int64, links []domain.SavedLink) error {
	if links == nil {
		links = []domain.SavedLink{}
	}
	val, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("failed to marshal links: %w", err)
	}
	if err := r.set(userKey(owner, "links"), val); err != nil {
		r.log.WithError(err).WithField("owner", owner).Error("Failed to save links")
		return err
	}
	r.log.WithFields(logrus.Fields{"owner": owner, "link_count": len(links)}).Debug("Links saved")
	return nil
}

func (r *BadgerRepository) GetCredential(ctx context.Context, owner int64) (string, error) {
	val, err := r.get(userKey(owner, credentialField))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (r *BadgerRepository) SaveCredential(ctx context.Context, owner int64, credential string) error {
	return r.set(userKey(owner, credentialField), []byte(credential))
}

// DeleteCredential removes the owner's credential. Deleting a missing
// credential is not an error.
func (r *BadgerRepository) DeleteCredential(ctx context.Context, owner int64) error {
	db, err := r.EnsureOpen()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Delete(userKey(owner, credentialField))
	})
	if err != nil {
		return fmt.Errorf("failed to delete credential for owner %d: %w", owner, err)
	}
	return nil
}

// ListOwners scans the user keyspace for owners that stored a credential.
func (r *BadgerRepository) ListOwners(ctx context.Context) ([]int64, error) {
	db, err := r.EnsureOpen()
	if err != nil {
		return nil, err
	}

	var owners []int64
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("user:")
		suffix := ":" + credentialField
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, suffix) {
				continue
			}
			raw := strings.TrimSuffix(strings.TrimPrefix(key, "user:"), suffix)
			owner, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				r.log.WithField("key", key).Warn("Skipping malformed credential key")
				continue
			}
			owners = append(owners, owner)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}

func (r *BadgerRepository) GetCloudHandle(ctx context.Context, owner int64) (string, error) {
	val, err := r.get(userKey(owner, "cloud"))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (r *BadgerRepository) SaveCloudHandle(ctx context.Context, owner int64, handle string) error {
	return r.set(userKey(owner, "cloud"), []byte(handle))
}

func (r *BadgerRepository) GetMirror(ctx context.Context, key string) ([]byte, error) {
	return r.get(mirrorKey(key))
}

func (r *BadgerRepository) SaveMirror(ctx context.Context, key string, doc []byte) error {
	return r.set(mirrorKey(key), doc)
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
