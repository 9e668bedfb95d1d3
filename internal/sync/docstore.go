package sync

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
)

// DocumentSource fetches one attachment body from the remote.
type DocumentSource interface {
	DownloadDocument(ctx context.Context, documentID int64) (io.ReadCloser, string, error)
}

// ObjectStore persists a blob under a key and returns its public URL.
// Uploads to an existing key overwrite it.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// DocStore is the document storage worker. Storage keys are derived from the
// grant call and the remote document id, so a re-run overwrites the same
// object instead of accumulating duplicates.
type DocStore struct {
	log     *logger.Logger
	source  DocumentSource
	store   ObjectStore
	docs    repos.GrantDocumentRepo
	metrics *observability.Metrics
}

func NewDocStore(log *logger.Logger, source DocumentSource, store ObjectStore, docs repos.GrantDocumentRepo, metrics *observability.Metrics) *DocStore {
	return &DocStore{
		log:     log.With("component", "DocStore"),
		source:  source,
		store:   store,
		docs:    docs,
		metrics: metrics,
	}
}

// Store fetches and persists one attachment, then updates the stored
// pointer. Failures are retryable by the orchestration layer and never touch
// the already-committed grant call.
func (s *DocStore) Store(ctx context.Context, job DocumentJob) (string, error) {
	log := s.log.With(
		"grant_call_id", job.GrantCallID.String(),
		"document_id", job.DocumentID.String(),
	)

	doc, err := s.docs.GetByID(ctx, nil, job.DocumentID)
	if err != nil {
		s.metrics.RecordDocumentFailed()
		return "", fmt.Errorf("load document row: %w", err)
	}
	if doc == nil {
		// A newer sync rebuilt the collection and this job references a
		// superseded row; the replacement row carries its own job.
		log.Debug("Document row gone; job superseded")
		return "", nil
	}

	body, contentType, err := s.source.DownloadDocument(ctx, doc.ExternalID)
	if err != nil {
		s.metrics.RecordDocumentFailed()
		return "", fmt.Errorf("download document %d: %w", doc.ExternalID, err)
	}
	defer body.Close()

	key := storageKey(job, doc.ExternalID, doc.FileName)
	fileURL, err := s.store.Upload(ctx, key, contentType, body)
	if err != nil {
		s.metrics.RecordDocumentFailed()
		return "", fmt.Errorf("upload document %d: %w", doc.ExternalID, err)
	}

	if err := s.docs.SetStorage(ctx, nil, doc.ID, key, fileURL); err != nil {
		s.metrics.RecordDocumentFailed()
		return "", fmt.Errorf("update storage pointer: %w", err)
	}

	s.metrics.RecordDocumentStored()
	log.Debug("Document stored", "key", key)
	return key, nil
}

func storageKey(job DocumentJob, externalID int64, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("grant-calls/%s/documents/%d%s", job.GrantCallID, externalID, ext)
}
