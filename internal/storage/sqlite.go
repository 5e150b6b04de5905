package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"perch/internal/domain"
)

const createPostCacheTable = `
CREATE TABLE IF NOT EXISTS post_cache (
	post_id TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	fetch_success BOOLEAN DEFAULT TRUE,
	fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// SQLitePostStore keeps fetched post records in a SQLite table.
type SQLitePostStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLitePostStore opens the database at path and creates the schema.
func NewSQLitePostStore(path string, logger logrus.FieldLogger) (*SQLitePostStore, error) {
	log := logger.WithField("component", "post_store")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createPostCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create post_cache table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_post_cache_fetched ON post_cache(fetched_at)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create post_cache index: %w", err)
	}

	log.WithField("path", path).Info("Post store ready")
	return &SQLitePostStore{db: db, log: log}, nil
}

func (s *SQLitePostStore) Close() error {
	return s.db.Close()
}

// GetPost returns the stored record or domain.ErrNotFound.
func (s *SQLitePostStore) GetPost(ctx context.Context, postID string) (*domain.PostRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM post_cache WHERE post_id = ?", postID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query post %s: %w", postID, err)
	}

	var rec domain.PostRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.WithError(err).WithField("post_id", postID).Error("Failed to unmarshal post record")
		return nil, fmt.Errorf("failed to unmarshal post %s: %w", postID, err)
	}
	return &rec, nil
}

// PutPost inserts or replaces the record for rec.PostID.
func (s *SQLitePostStore) PutPost(ctx context.Context, rec domain.PostRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal post %s: %w", rec.PostID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO post_cache (post_id, record, fetch_success, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			record = excluded.record,
			fetch_success = excluded.fetch_success,
			fetched_at = excluded.fetched_at`,
		rec.PostID, string(raw), !rec.Failed(), rec.FetchedAt)
	if err != nil {
		s.log.WithError(err).WithField("post_id", rec.PostID).Error("Failed to store post record")
		return fmt.Errorf("failed to store post %s: %w", rec.PostID, err)
	}
	return nil
}

// DeletePost removes the record; deleting a missing record is not an error.
func (s *SQLitePostStore) DeletePost(ctx context.Context, postID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM post_cache WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", postID, err)
	}
	return nil
}
