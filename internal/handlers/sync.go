package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redisclient "github.com/openfondos/grantmirror/internal/clients/redis"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/sync"
	"github.com/openfondos/grantmirror/internal/temporalx/syncflow"
	"github.com/openfondos/grantmirror/internal/types"
)

// RunStarter starts the top-level run workflow.
type RunStarter interface {
	StartRun(ctx context.Context, in syncflow.RunInput) error
}

type SyncHandler struct {
	log     *logger.Logger
	runs    repos.SyncRunRepo
	lock    redisclient.RunLock
	runner  RunStarter
	metrics *observability.Metrics
}

func NewSyncHandler(log *logger.Logger, runs repos.SyncRunRepo, lock redisclient.RunLock, runner RunStarter, metrics *observability.Metrics) *SyncHandler {
	return &SyncHandler{
		log:     log.With("handler", "SyncHandler"),
		runs:    runs,
		lock:    lock,
		runner:  runner,
		metrics: metrics,
	}
}

type triggerRequest struct {
	// FromDate restricts the catalog walk to announcements published on or
	// after this date (YYYY-MM-DD). Empty means "since the last successful
	// run", Full=true forces a complete walk.
	FromDate string `json:"from_date,omitempty"`
	Full     bool   `json:"full,omitempty"`
}

// POST /api/sync
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	ctx := c.Request.Context()

	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}

	fromDate, err := h.resolveWindow(ctx, req)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_from_date", err)
		return
	}

	runID := uuid.New()

	acquired, err := h.lock.Acquire(ctx, runID.String())
	if err != nil {
		RespondError(c, http.StatusServiceUnavailable, "lock_unavailable", err)
		return
	}
	if !acquired {
		RespondError(c, http.StatusConflict, "run_active", sync.ErrRunActive)
		return
	}

	run := &types.SyncRun{
		ID:       runID,
		Status:   types.SyncRunStatusQueued,
		FromDate: fromDate,
	}
	if _, err := h.runs.Create(ctx, nil, run); err != nil {
		h.releaseLock(ctx, runID)
		RespondError(c, http.StatusInternalServerError, "run_create_failed", err)
		return
	}

	in := syncflow.RunInput{RunID: runID.String(), FromDate: fromDate}
	if err := h.runner.StartRun(ctx, in); err != nil {
		h.log.Error("Failed to start run workflow", "run_id", runID.String(), "error", err)
		_ = h.runs.MarkFailed(ctx, nil, runID, fmt.Sprintf("start workflow: %v", err))
		h.releaseLock(ctx, runID)
		RespondError(c, http.StatusBadGateway, "workflow_start_failed", err)
		return
	}

	trigger := "incremental"
	if fromDate == nil {
		trigger = "full"
	}
	h.metrics.RecordRunStarted(trigger)
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID.String()})
}

// GET /api/sync/runs/:id
func (h *SyncHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), nil, runID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "run_lookup_failed", err)
		return
	}
	if run == nil {
		RespondError(c, http.StatusNotFound, "run_not_found", fmt.Errorf("run %s not found", runID))
		return
	}
	RespondOK(c, gin.H{"run": run})
}

// GET /api/sync/runs
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	runs, err := h.runs.ListRecent(c.Request.Context(), nil, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "run_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

func (h *SyncHandler) resolveWindow(ctx context.Context, req triggerRequest) (*time.Time, error) {
	if req.Full {
		return nil, nil
	}
	if req.FromDate != "" {
		t, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			return nil, fmt.Errorf("from_date must be YYYY-MM-DD: %w", err)
		}
		return &t, nil
	}
	last, err := h.runs.LastSuccessfulFinishedAt(ctx, nil)
	if err != nil {
		h.log.Warn("Could not resolve last successful run; falling back to full walk", "error", err)
		return nil, nil
	}
	if last == nil {
		return nil, nil
	}
	// Back off one day so announcements published while the previous run
	// was in flight are not missed.
	from := last.AddDate(0, 0, -1)
	return &from, nil
}

func (h *SyncHandler) releaseLock(ctx context.Context, runID uuid.UUID) {
	if err := h.lock.Release(ctx, runID.String()); err != nil {
		h.log.Warn("Run lock release failed", "run_id", runID.String(), "error", err)
	}
}
