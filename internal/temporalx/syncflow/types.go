package syncflow

import "time"

const (
	RunWorkflowName      = "grant_sync_run"
	BatchWorkflowName    = "grant_sync_batch"
	DocumentWorkflowName = "grant_doc_store"

	ActivityMarkRunning        = "sync_mark_running"
	ActivityLaunchRun          = "sync_launch_run"
	ActivityProcessBatch       = "sync_process_batch"
	ActivityRecordBatchFailure = "sync_record_batch_failure"
	ActivityStoreDocument      = "doc_store"
	ActivityMarkRunFailed      = "sync_mark_run_failed"
)

type RunInput struct {
	RunID    string     `json:"run_id"`
	FromDate *time.Time `json:"from_date,omitempty"`
}

type LaunchOutput struct {
	Pages      int `json:"pages"`
	Seen       int `json:"seen"`
	Candidates int `json:"candidates"`
	Batches    int `json:"batches"`
}

type FailInput struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}
