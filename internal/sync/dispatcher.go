package sync

import (
	"context"

	"github.com/google/uuid"
)

// ItemStub is the minimal view of one candidate carried inside a batch:
// enough to fetch the detail plus positional metadata for progress logs.
type ItemStub struct {
	ExternalID int64  `json:"external_id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Position   int    `json:"position"`
}

// BatchSpec is one independently retryable unit of work.
type BatchSpec struct {
	RunID uuid.UUID  `json:"run_id"`
	Index int        `json:"index"`
	Total int        `json:"total"`
	Items []ItemStub `json:"items"`
}

// DocumentJob asks the storage worker to fetch and persist one attachment.
type DocumentJob struct {
	GrantCallID uuid.UUID `json:"grant_call_id"`
	DocumentID  uuid.UUID `json:"document_id"`
}

// Dispatcher hands units of work to the orchestration layer. Production uses
// Temporal workflows; tests use an in-memory queue.
type Dispatcher interface {
	EnqueueBatch(ctx context.Context, spec BatchSpec) error
	EnqueueDocument(ctx context.Context, job DocumentJob) error
}
