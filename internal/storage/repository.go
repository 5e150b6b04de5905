package storage

import (
	"context"

	"perch/internal/domain"
)

// MediaStore persists downloaded media bytes keyed by media id.
type MediaStore interface {
	// GetMedia returns the cached entry for id, or domain.ErrNotFound.
	GetMedia(ctx context.Context, id string) (*domain.CacheEntry, error)

	// PutMedia stores payload for id, replacing any earlier entry.
	PutMedia(ctx context.Context, id, sourceURL string, payload []byte, contentType string) (domain.CacheEntry, error)
}

// LinkStore persists each owner's ordered link list.
type LinkStore interface {
	GetLinks(ctx context.Context, owner int64) ([]domain.SavedLink, error)
	SaveLinks(ctx context.Context, owner int64, links []domain.SavedLink) error
}

// CredentialStore persists the opaque API credential of each owner.
type CredentialStore interface {
	// GetCredential returns domain.ErrNotFound when the owner has none.
	GetCredential(ctx context.Context, owner int64) (string, error)
	SaveCredential(ctx context.Context, owner int64, credential string) error
	DeleteCredential(ctx context.Context, owner int64) error

	// ListOwners returns every owner with a stored credential.
	ListOwners(ctx context.Context) ([]int64, error)
}

// CloudStateStore remembers remote document handles and keeps the local
// mirror used when the cloud store is unreachable.
type CloudStateStore interface {
	GetCloudHandle(ctx context.Context, owner int64) (string, error)
	SaveCloudHandle(ctx context.Context, owner int64, handle string) error
	GetMirror(ctx context.Context, key string) ([]byte, error)
	SaveMirror(ctx context.Context, key string, doc []byte) error
}

// PostStore persists fetched post records.
type PostStore interface {
	GetPost(ctx context.Context, postID string) (*domain.PostRecord, error)
	PutPost(ctx context.Context, rec domain.PostRecord) error
	DeletePost(ctx context.Context, postID string) error
}
