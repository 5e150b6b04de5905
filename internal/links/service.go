package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/storage"
)

// CredentialVerifier checks a credential against the data API.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, credential string) error
}

// PostPrefetcher starts background post fetches.
type PostPrefetcher interface {
	Prefetch(ctx context.Context, credential string, postIDs []string) int
}

// PostRemover drops cached post records.
type PostRemover interface {
	Delete(ctx context.Context, postID string) error
}

// CloudSyncer reads and writes the owner's remote link document.
type CloudSyncer interface {
	Load(ctx context.Context, owner int64, credential string) ([]domain.SavedLink, error)
	Save(ctx context.Context, owner int64, credential string, links []domain.SavedLink) error
}

type Deps struct {
	Links       storage.LinkStore
	Credentials storage.CredentialStore
	Verifier    CredentialVerifier
	Prefetcher  PostPrefetcher
	Posts       PostRemover
	Cloud       CloudSyncer
}

// SyncResult summarizes one Sync call.
type SyncResult struct {
	Total  int
	Added  int
	Pushed bool
}

// Service owns the link list of every owner.
type Service struct {
	deps     Deps
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time

	// mu serializes read-modify-write cycles on link lists.
	mu sync.Mutex
}

func NewService(deps Deps, logger logrus.FieldLogger) *Service {
	return &Service{
		deps:     deps,
		validate: validator.New(),
		log:      logger.WithField("component", "links"),
		now:      time.Now,
	}
}

func (s *Service) List(ctx context.Context, owner int64) ([]domain.SavedLink, error) {
	return s.deps.Links.GetLinks(ctx, owner)
}

// Save appends raw to the owner's list. It fails with domain.ErrInvalidURL
// for anything but a post URL and domain.ErrDuplicateLink when the
// canonical URL is already saved.
func (s *Service) Save(ctx context.Context, owner int64, raw string) (domain.SavedLink, error) {
	raw = strings.TrimSpace(raw)
	if err := s.validate.Var(raw, "required,url"); err != nil {
		return domain.SavedLink{}, fmt.Errorf("%w: %q", domain.ErrInvalidURL, raw)
	}
	link, err := domain.NewSavedLink(raw, s.now())
	if err != nil {
		return domain.SavedLink{}, err
	}

	s.mu.Lock()
	current, err := s.deps.Links.GetLinks(ctx, owner)
	if err != nil {
		s.mu.Unlock()
		return domain.SavedLink{}, err
	}
	if lo.ContainsBy(current, func(l domain.SavedLink) bool { return canonicalKey(l.URL) == link.URL }) {
		s.mu.Unlock()
		return domain.SavedLink{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLink, link.URL)
	}
	updated := append(current, link)
	err = s.deps.Links.SaveLinks(ctx, owner, updated)
	s.mu.Unlock()
	if err != nil {
		return domain.SavedLink{}, err
	}

	s.log.WithFields(logrus.Fields{"owner": owner, "post_id": link.PostID}).Info("Link saved")

	credential, _ := s.Credential(ctx, owner)
	if s.deps.Prefetcher != nil {
		s.deps.Prefetcher.Prefetch(ctx, credential, []string{link.PostID})
	}
	s.push(ctx, owner, credential, updated)
	return link, nil
}

// Delete removes the link with raw's canonical URL together with its
// cached post record.
func (s *Service) Delete(ctx context.Context, owner int64, raw string) error {
	canonical, err := domain.Canonical(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	current, err := s.deps.Links.GetLinks(ctx, owner)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	removed, idx, found := lo.FindIndexOf(current, func(l domain.SavedLink) bool { return canonicalKey(l.URL) == canonical })
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, canonical)
	}
	updated := append(current[:idx:idx], current[idx+1:]...)
	err = s.deps.Links.SaveLinks(ctx, owner, updated)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.deps.Posts != nil {
		if err := s.deps.Posts.Delete(ctx, removed.PostID); err != nil {
			s.log.WithError(err).WithField("post_id", removed.PostID).Warn("Failed to drop cached post")
		}
	}
	s.log.WithFields(logrus.Fields{"owner": owner, "post_id": removed.PostID}).Info("Link deleted")

	credential, _ := s.Credential(ctx, owner)
	s.push(ctx, owner, credential, updated)
	return nil
}

// SetCredential verifies credential with the data API and stores it.
func (s *Service) SetCredential(ctx context.Context, owner int64, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.ErrMissingCredential
	}
	if s.deps.Verifier != nil {
		if err := s.deps.Verifier.VerifyCredential(ctx, credential); err != nil {
			return err
		}
	}
	if err := s.deps.Credentials.SaveCredential(ctx, owner, credential); err != nil {
		return err
	}
	s.log.WithField("owner", owner).Info("Credential stored")

	// Posts that failed for lack of a working credential get another try.
	if s.deps.Prefetcher != nil {
		current, err := s.deps.Links.GetLinks(ctx, owner)
		if err != nil {
			s.log.WithError(err).WithField("owner", owner).Warn("Failed to list links for prefetch")
			return nil
		}
		if len(current) > 0 {
			s.deps.Prefetcher.Prefetch(ctx, credential, lo.Map(current, func(l domain.SavedLink, _ int) string { return l.PostID }))
		}
	}
	return nil
}

// ClearCredential forgets the owner's credential. Saved links and cached
// posts stay.
func (s *Service) ClearCredential(ctx context.Context, owner int64) error {
	if err := s.deps.Credentials.DeleteCredential(ctx, owner); err != nil {
		return err
	}
	s.log.WithField("owner", owner).Info("Credential cleared")
	return nil
}

// Credential returns the owner's credential or domain.ErrMissingCredential.
func (s *Service) Credential(ctx context.Context, owner int64) (string, error) {
	credential, err := s.deps.Credentials.GetCredential(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && credential == "") {
		return "", domain.ErrMissingCredential
	}
	return credential, err
}

// Sync reconciles the local list with the cloud copy. A non-empty remote
// list is merged in and the result pushed back; otherwise the local list is
// uploaded as is.
func (s *Service) Sync(ctx context.Context, owner int64) (SyncResult, error) {
	credential, err := s.Credential(ctx, owner)
	if err != nil {
		return SyncResult{}, err
	}
	log := s.log.WithField("owner", owner)

	var remote []domain.SavedLink
	if s.deps.Cloud != nil {
		remote, err = s.deps.Cloud.Load(ctx, owner, credential)
		if err != nil {
			log.WithError(err).Warn("Cloud load failed, syncing local list only")
			remote = nil
		}
	}

	s.mu.Lock()
	local, err := s.deps.Links.GetLinks(ctx, owner)
	if err != nil {
		s.mu.Unlock()
		return SyncResult{}, err
	}
	result := SyncResult{Total: len(local)}
	merged := local
	if len(remote) > 0 {
		merged = Merge(local, remote)
		if err := s.deps.Links.SaveLinks(ctx, owner, merged); err != nil {
			s.mu.Unlock()
			return SyncResult{}, err
		}
		result.Total = len(merged)
		result.Added = len(merged) - len(local)
	}
	s.mu.Unlock()

	if len(merged) > 0 {
		result.Pushed = s.push(ctx, owner, credential, merged)
	}
	if s.deps.Prefetcher != nil {
		s.deps.Prefetcher.Prefetch(ctx, credential, lo.Map(merged, func(l domain.SavedLink, _ int) string { return l.PostID }))
	}

	log.WithFields(logrus.Fields{"total": result.Total, "added": result.Added}).Info("Links synced")
	return result, nil
}

func (s *Service) push(ctx context.Context, owner int64, credential string, links []domain.SavedLink) bool {
	if s.deps.Cloud == nil || credential == "" {
		return false
	}
	if err := s.deps.Cloud.Save(ctx, owner, credential, links); err != nil {
		s.log.WithError(err).WithField("owner", owner).Warn("Cloud push failed")
		return false
	}
	return true
}
