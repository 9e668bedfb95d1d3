package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/types"
)

type SyncRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.SyncRun) (*types.SyncRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SyncRun, error)
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.SyncRun, error)
	MarkRunning(ctx context.Context, tx *gorm.DB, id uuid.UUID, startedAt time.Time) error
	MarkLaunched(ctx context.Context, tx *gorm.DB, id uuid.UUID, pages, candidates, prefiltered, batches int) (bool, error)
	AddBatchResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, processed, skipped, errored int) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errText string) error
	LastSuccessfulFinishedAt(ctx context.Context, tx *gorm.DB) (*time.Time, error)
}

type syncRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSyncRunRepo(db *gorm.DB, baseLog *logger.Logger) SyncRunRepo {
	repoLog := baseLog.With("repo", "SyncRunRepo")
	return &syncRunRepo{db: db, log: repoLog}
}

func (r *syncRunRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *syncRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.SyncRun) (*types.SyncRun, error) {
	if err := r.handle(tx).WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *syncRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SyncRun, error) {
	var result types.SyncRun
	err := r.handle(tx).WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *syncRunRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var results []*types.SyncRun
	if err := r.handle(tx).WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *syncRunRepo) MarkRunning(ctx context.Context, tx *gorm.DB, id uuid.UUID, startedAt time.Time) error {
	return r.handle(tx).WithContext(ctx).
		Model(&types.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     types.SyncRunStatusRunning,
			"started_at": startedAt,
		}).Error
}

// MarkLaunched records the partition totals and folds the items the launcher
// pre-filtered into the skipped counter, so the caller-visible summary covers
// every item seen on the search pages. Returns true when the run just reached
// its terminal state: a zero-batch launch closes immediately, and a launch
// whose batches all finished before the totals landed closes here too.
func (r *syncRunRepo) MarkLaunched(ctx context.Context, tx *gorm.DB, id uuid.UUID, pages, candidates, prefiltered, batches int) (bool, error) {
	transaction := r.handle(tx).WithContext(ctx)

	updates := map[string]interface{}{
		"pages_fetched": pages,
		"candidates":    candidates,
		"batches_total": batches,
		"skipped":       gorm.Expr("skipped + ?", prefiltered),
	}
	if batches == 0 {
		updates["status"] = types.SyncRunStatusSucceeded
		updates["finished_at"] = time.Now().UTC()
		if err := transaction.
			Model(&types.SyncRun{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	if err := transaction.
		Model(&types.SyncRun{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return false, err
	}

	// Batches are dispatched before the totals land; any that finished in
	// that window could not flip the run, so check here.
	res := transaction.
		Model(&types.SyncRun{}).
		Where("id = ? AND status = ? AND batches_done >= batches_total", id, types.SyncRunStatusRunning).
		Updates(map[string]interface{}{
			"status":      types.SyncRunStatusSucceeded,
			"finished_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AddBatchResult atomically folds one finished batch into the run counters.
// Returns true when this was the final outstanding batch and the run just
// transitioned to succeeded. The batches_total > 0 guard keeps a batch that
// finishes before MarkLaunched writes the totals from closing the run early.
func (r *syncRunRepo) AddBatchResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, processed, skipped, errored int) (bool, error) {
	transaction := r.handle(tx).WithContext(ctx)

	if err := transaction.
		Model(&types.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    gorm.Expr("processed + ?", processed),
			"skipped":      gorm.Expr("skipped + ?", skipped),
			"errored":      gorm.Expr("errored + ?", errored),
			"batches_done": gorm.Expr("batches_done + 1"),
		}).Error; err != nil {
		return false, err
	}

	res := transaction.
		Model(&types.SyncRun{}).
		Where("id = ? AND status = ? AND batches_total > 0 AND batches_done >= batches_total", id, types.SyncRunStatusRunning).
		Updates(map[string]interface{}{
			"status":      types.SyncRunStatusSucceeded,
			"finished_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *syncRunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errText string) error {
	if len(errText) > 2000 {
		errText = errText[:2000]
	}
	return r.handle(tx).WithContext(ctx).
		Model(&types.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.SyncRunStatusFailed,
			"error":       errText,
			"finished_at": time.Now().UTC(),
		}).Error
}

func (r *syncRunRepo) LastSuccessfulFinishedAt(ctx context.Context, tx *gorm.DB) (*time.Time, error) {
	var result types.SyncRun
	err := r.handle(tx).WithContext(ctx).
		Where("status = ?", types.SyncRunStatusSucceeded).
		Order("finished_at DESC").
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return result.FinishedAt, nil
}
