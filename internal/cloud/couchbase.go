package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
)

const cbTimeout = time.Second * 5

// CouchbaseStore keeps documents in the default collection of a bucket,
// keyed by random uuids.
type CouchbaseStore struct {
	bucket     string
	cluster    *gocb.Cluster
	collection *gocb.Collection
	log        logrus.FieldLogger
}

// ConnectCouchbase opens a cluster connection and waits until it is usable.
func ConnectCouchbase(endpoint, username, password string) (*gocb.Cluster, error) {
	conn := endpoint
	if !strings.Contains(conn, "://") {
		conn = "couchbase://" + conn
	}
	c, err := gocb.Connect(conn, gocb.ClusterOptions{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to couchbase: %w", err)
	}
	if err := c.WaitUntilReady(cbTimeout, nil); err != nil {
		return nil, fmt.Errorf("unable to wait until cluster ready: %w", err)
	}
	return c, nil
}

func NewCouchbaseStore(logger logrus.FieldLogger, cluster *gocb.Cluster, bucket string) (*CouchbaseStore, error) {
	s := CouchbaseStore{
		bucket:  bucket,
		cluster: cluster,
	}
	if logger != nil {
		s.log = logger.WithField("component", "cloud.couchbase")
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	if err := s.setCollection(); err != nil {
		return nil, fmt.Errorf("unable to set collection: %w", err)
	}
	return &s, nil
}

func (s *CouchbaseStore) validate() error {
	var missingDeps []string

	for _, tc := range []struct {
		dep string
		chk func() bool
	}{
		{dep: "logger", chk: func() bool { return s.log != nil }},
		{dep: "cluster", chk: func() bool { return s.cluster != nil }},
		{dep: "bucket", chk: func() bool { return s.bucket != "" }},
	} {
		if !tc.chk() {
			missingDeps = append(missingDeps, tc.dep)
		}
	}

	if len(missingDeps) > 0 {
		return fmt.Errorf(
			"unable to initialize couchbase store due to (%d) missing dependencies: %s",
			len(missingDeps),
			strings.Join(missingDeps, ","),
		)
	}
	return nil
}

func (s *CouchbaseStore) setCollection() error {
	bucket := s.cluster.Bucket(s.bucket)
	if err := bucket.WaitUntilReady(cbTimeout, nil); err != nil {
		return fmt.Errorf("unable to wait for bucket to be ready: %w", err)
	}
	s.collection = bucket.DefaultCollection()
	return nil
}

func (s *CouchbaseStore) Create(ctx context.Context, doc Document) (string, error) {
	id := uuid.NewString()
	_, err := s.collection.Insert(id, doc, &gocb.InsertOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         cbTimeout,
		Context:         ctx,
	})
	if err != nil {
		s.log.WithError(err).Error("Unable to create links document")
		return "", fmt.Errorf("%w: unable to create links document: %v", domain.ErrUpstream, err)
	}
	s.log.WithField("doc_id", id).Debug("Created links document")
	return id, nil
}

func (s *CouchbaseStore) Read(ctx context.Context, handle string) (Document, error) {
	res, err := s.collection.Get(handle, &gocb.GetOptions{Timeout: cbTimeout, Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, handle)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: unable to read links document: %v", domain.ErrUpstream, err)
	}

	var doc Document
	if err := res.Content(&doc); err != nil {
		return Document{}, fmt.Errorf("unable to decode links document: %w", err)
	}
	return doc, nil
}

func (s *CouchbaseStore) Update(ctx context.Context, handle string, doc Document) error {
	_, err := s.collection.Replace(handle, doc, &gocb.ReplaceOptions{Timeout: cbTimeout, Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, handle)
	}
	if err != nil {
		return fmt.Errorf("%w: unable to update links document: %v", domain.ErrUpstream, err)
	}
	return nil
}
