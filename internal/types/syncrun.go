package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued    = "queued"
	SyncRunStatusRunning   = "running"
	SyncRunStatusSucceeded = "succeeded"
	SyncRunStatusFailed    = "failed"
)

// SyncRun is the bookkeeping row for one end-to-end sync. Batch workers
// increment the counters as they finish; the row is the source of the
// caller-visible {processed, skipped, errors} summary.
type SyncRun struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Status string    `gorm:"column:status;not null;default:'queued';index" json:"status"`

	FromDate     *time.Time `gorm:"column:from_date" json:"from_date,omitempty"`
	PagesFetched int        `gorm:"column:pages_fetched;not null;default:0" json:"pages_fetched"`
	Candidates   int        `gorm:"column:candidates;not null;default:0" json:"candidates"`
	BatchesTotal int        `gorm:"column:batches_total;not null;default:0" json:"batches_total"`
	BatchesDone  int        `gorm:"column:batches_done;not null;default:0" json:"batches_done"`

	Processed int `gorm:"column:processed;not null;default:0" json:"processed"`
	Skipped   int `gorm:"column:skipped;not null;default:0" json:"skipped"`
	Errored   int `gorm:"column:errored;not null;default:0" json:"errored"`

	Error      string     `gorm:"column:error" json:"error,omitempty"`
	StartedAt  *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SyncRun) TableName() string { return "sync_run" }

func (r *SyncRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
