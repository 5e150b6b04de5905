package cloud

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/storage"
)

// Syncer loads and stores an owner's link document. Every remote failure
// falls back to a local mirror, so callers never see a sync error from a
// flaky remote.
type Syncer struct {
	remote RemoteStore
	state  storage.CloudStateStore
	log    logrus.FieldLogger
}

// NewSyncer creates a syncer. A nil remote keeps everything in the mirror.
func NewSyncer(remote RemoteStore, state storage.CloudStateStore, logger logrus.FieldLogger) *Syncer {
	return &Syncer{
		remote: remote,
		state:  state,
		log:    logger.WithField("component", "cloud"),
	}
}

// Load returns the remote link list for credential, or nil when neither the
// remote nor the mirror holds a document for it.
func (s *Syncer) Load(ctx context.Context, owner int64, credential string) ([]domain.SavedLink, error) {
	digest := Digest(credential)
	log := s.log.WithField("owner", owner)

	if doc, ok := s.loadRemote(ctx, owner, digest); ok {
		return doc.Links, nil
	}

	raw, err := s.state.GetMirror(ctx, mirrorKey(digest))
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("No synced links found")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.WithError(err).Warn("Discarding unreadable mirror document")
		return nil, nil
	}
	if doc.CredentialDigest != digest {
		log.Warn("Mirror document belongs to another credential")
		return nil, nil
	}
	log.WithField("count", len(doc.Links)).Info("Links loaded from local mirror")
	return doc.Links, nil
}

func (s *Syncer) loadRemote(ctx context.Context, owner int64, digest string) (Document, bool) {
	if s.remote == nil {
		return Document{}, false
	}
	log := s.log.WithField("owner", owner)

	handle, err := s.state.GetCloudHandle(ctx, owner)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Warn("Failed to read cloud handle")
		}
		return Document{}, false
	}

	doc, err := s.remote.Read(ctx, handle)
	if err != nil {
		log.WithError(err).WithField("handle", handle).Warn("Remote read failed, trying local mirror")
		return Document{}, false
	}
	if doc.CredentialDigest != digest {
		log.WithField("handle", handle).Warn("Remote document belongs to another credential")
		return Document{}, false
	}
	log.WithField("count", len(doc.Links)).Info("Links loaded from remote")
	return doc, true
}

// Save stores links for credential. The known remote document is updated;
// when that fails a new one is created, and when that fails too the links
// go to the local mirror.
func (s *Syncer) Save(ctx context.Context, owner int64, credential string, links []domain.SavedLink) error {
	doc := Document{
		CredentialDigest: Digest(credential),
		Links:            links,
		LastUpdated:      time.Now().UTC(),
	}
	log := s.log.WithField("owner", owner)

	if s.remote != nil {
		if s.saveRemote(ctx, owner, doc) {
			return nil
		}
		log.Warn("Remote save failed, writing local mirror")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.state.SaveMirror(ctx, mirrorKey(doc.CredentialDigest), raw)
}

func (s *Syncer) saveRemote(ctx context.Context, owner int64, doc Document) bool {
	log := s.log.WithField("owner", owner)

	handle, err := s.state.GetCloudHandle(ctx, owner)
	if err == nil {
		if err = s.remote.Update(ctx, handle, doc); err == nil {
			log.WithField("handle", handle).Debug("Remote document updated")
			return true
		}
		log.WithError(err).WithField("handle", handle).Warn("Remote update failed, creating a new document")
	}

	handle, err = s.remote.Create(ctx, doc)
	if err != nil {
		log.WithError(err).Warn("Remote create failed")
		return false
	}
	if err := s.state.SaveCloudHandle(ctx, owner, handle); err != nil {
		log.WithError(err).Error("Failed to remember cloud handle")
	}
	return true
}
