package sync

import (
	"errors"
	"fmt"
)

// RelationSyncError marks a record whose upsert could not land all of its
// reference sets and owned collections. The record's hash is never advanced
// under this error, so a retry reprocesses it from scratch.
type RelationSyncError struct {
	ExternalID int64
	Err        error
}

func (e *RelationSyncError) Error() string {
	return fmt.Sprintf("relation sync failed (external_id=%d): %v", e.ExternalID, e.Err)
}

func (e *RelationSyncError) Unwrap() error { return e.Err }

// ErrRunActive is returned when a sync trigger arrives while another run
// holds the run lock.
var ErrRunActive = errors.New("sync: a run is already active")
