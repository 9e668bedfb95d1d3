package repos

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&types.SyncRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestRunRepo(t *testing.T) SyncRunRepo {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return NewSyncRunRepo(openTestDB(t), log)
}

func TestSyncRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatalf("id not assigned")
	}

	if err := repo.MarkRunning(ctx, nil, run.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	completed, err := repo.MarkLaunched(ctx, nil, run.ID, 4, 37, 3, 2)
	if err != nil {
		t.Fatalf("mark launched: %v", err)
	}
	if completed {
		t.Fatalf("run must stay open with batches outstanding")
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusRunning || got.StartedAt == nil {
		t.Fatalf("not running after launch: %+v", got)
	}
	if got.PagesFetched != 4 || got.Candidates != 37 || got.BatchesTotal != 2 {
		t.Fatalf("launch totals wrong: %+v", got)
	}
	if got.Skipped != 3 {
		t.Fatalf("pre-filtered items not counted as skipped: %+v", got)
	}

	done, err := repo.AddBatchResult(ctx, nil, run.ID, 15, 1, 1)
	if err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	if done {
		t.Fatalf("run must stay open with one batch outstanding")
	}

	done, err = repo.AddBatchResult(ctx, nil, run.ID, 16, 1, 1)
	if err != nil {
		t.Fatalf("batch 2: %v", err)
	}
	if !done {
		t.Fatalf("final batch must close the run")
	}

	got, err = repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("run not closed: %+v", got)
	}
	// 3 pre-filtered at launch plus 2 skipped inside batches.
	if got.Processed != 31 || got.Skipped != 5 || got.Errored != 2 || got.BatchesDone != 2 {
		t.Fatalf("counters wrong: %+v", got)
	}
}

func TestSyncRunZeroBatchLaunchSucceedsImmediately(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkRunning(ctx, nil, run.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	completed, err := repo.MarkLaunched(ctx, nil, run.ID, 6, 0, 12, 0)
	if err != nil {
		t.Fatalf("mark launched: %v", err)
	}
	if !completed {
		t.Fatalf("zero-batch launch must report the run completed")
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("zero-batch run must close on launch: %+v", got)
	}
	if got.Skipped != 12 {
		t.Fatalf("pre-filtered items not counted as skipped: %+v", got)
	}
}

func TestSyncRunBatchBeforeLaunchTotalsCannotCloseRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkRunning(ctx, nil, run.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	// Batches are dispatched before the totals land, so a fast batch can
	// report back while batches_total is still zero.
	done, err := repo.AddBatchResult(ctx, nil, run.ID, 8, 0, 0)
	if err != nil {
		t.Fatalf("early batch: %v", err)
	}
	if done {
		t.Fatalf("batch finishing before launch totals must not close the run")
	}
	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusRunning {
		t.Fatalf("run closed with batches outstanding: %+v", got)
	}

	completed, err := repo.MarkLaunched(ctx, nil, run.ID, 2, 32, 0, 4)
	if err != nil {
		t.Fatalf("mark launched: %v", err)
	}
	if completed {
		t.Fatalf("run must stay open with three batches outstanding")
	}

	for i := 0; i < 2; i++ {
		if done, err = repo.AddBatchResult(ctx, nil, run.ID, 8, 0, 0); err != nil {
			t.Fatalf("batch %d: %v", i+2, err)
		}
		if done {
			t.Fatalf("run closed before the final batch")
		}
	}
	done, err = repo.AddBatchResult(ctx, nil, run.ID, 8, 0, 0)
	if err != nil {
		t.Fatalf("final batch: %v", err)
	}
	if !done {
		t.Fatalf("final batch must close the run")
	}
}

func TestSyncRunLaunchClosesRunWhenAllBatchesAlreadyDone(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkRunning(ctx, nil, run.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	for i := 0; i < 2; i++ {
		done, err := repo.AddBatchResult(ctx, nil, run.ID, 5, 0, 0)
		if err != nil {
			t.Fatalf("batch %d: %v", i+1, err)
		}
		if done {
			t.Fatalf("no batch may close the run before the totals land")
		}
	}

	completed, err := repo.MarkLaunched(ctx, nil, run.ID, 1, 10, 0, 2)
	if err != nil {
		t.Fatalf("mark launched: %v", err)
	}
	if !completed {
		t.Fatalf("launch must close a run whose batches all finished early")
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("run not closed: %+v", got)
	}
	if got.Processed != 10 || got.BatchesDone != 2 {
		t.Fatalf("counters wrong: %+v", got)
	}
}

func TestSyncRunMarkFailedTruncatesError(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkFailed(ctx, nil, run.ID, strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SyncRunStatusFailed || got.FinishedAt == nil {
		t.Fatalf("run not failed: %+v", got)
	}
	if len(got.Error) != 2000 {
		t.Fatalf("error text length %d", len(got.Error))
	}
}

func TestSyncRunLastSuccessfulFinishedAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	if ts, err := repo.LastSuccessfulFinishedAt(ctx, nil); err != nil || ts != nil {
		t.Fatalf("empty table must yield nil, got %v %v", ts, err)
	}

	old := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{old, recent} {
		finished := ts
		if _, err := repo.Create(ctx, nil, &types.SyncRun{
			Status:     types.SyncRunStatusSucceeded,
			FinishedAt: &finished,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	failedAt := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	if _, err := repo.Create(ctx, nil, &types.SyncRun{
		Status:     types.SyncRunStatusFailed,
		FinishedAt: &failedAt,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ts, err := repo.LastSuccessfulFinishedAt(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ts == nil || !ts.Equal(recent) {
		t.Fatalf("expected %v, got %v", recent, ts)
	}
}

func TestSyncRunListRecentOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	repo := newTestRunRepo(t)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run, err := repo.Create(ctx, nil, &types.SyncRun{Status: types.SyncRunStatusQueued})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, run.ID)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := repo.ListRecent(ctx, nil, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit ignored, got %d rows", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("not newest first")
	}
}
