// Package cloud keeps an owner's link list in a remote document store so
// several clients can share it.
package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"perch/internal/domain"
)

// Document is the remote representation of one owner's links. It carries a
// digest of the credential instead of the credential itself.
type Document struct {
	CredentialDigest string             `json:"credentialHash"`
	Links            []domain.SavedLink `json:"links"`
	LastUpdated      time.Time          `json:"lastUpdated"`
}

// RemoteStore is a document store addressed by opaque handles.
type RemoteStore interface {
	// Create stores doc as a new document and returns its handle.
	Create(ctx context.Context, doc Document) (string, error)
	// Read returns domain.ErrNotFound when handle does not exist.
	Read(ctx context.Context, handle string) (Document, error)
	Update(ctx context.Context, handle string, doc Document) error
}

// Digest returns the hex sha256 of credential.
func Digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// mirrorKey names the local fallback document for a credential.
func mirrorKey(digest string) string {
	return "perch_" + digest[:16]
}
