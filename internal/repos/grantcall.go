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

// HashPair is the stored change-detection state for one grant call.
type HashPair struct {
	ContentHash string
	SummaryHash string
}

type GrantCallRepo interface {
	GetByExternalID(ctx context.Context, tx *gorm.DB, externalID int64) (*types.GrantCall, error)
	Save(ctx context.Context, tx *gorm.DB, call *types.GrantCall) error
	ReplaceAssociation(ctx context.Context, tx *gorm.DB, call *types.GrantCall, name string, values interface{}) error
	HashIndex(ctx context.Context, tx *gorm.DB) (map[int64]HashPair, error)
	HashIndexFor(ctx context.Context, tx *gorm.DB, externalIDs []int64) (map[int64]HashPair, error)
	StampSynced(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentHash, summaryHash string, at time.Time) error
}

type grantCallRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrantCallRepo(db *gorm.DB, baseLog *logger.Logger) GrantCallRepo {
	repoLog := baseLog.With("repo", "GrantCallRepo")
	return &grantCallRepo{db: db, log: repoLog}
}

func (r *grantCallRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, externalID int64) (*types.GrantCall, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.GrantCall
	err := transaction.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *grantCallRepo) Save(ctx context.Context, tx *gorm.DB, call *types.GrantCall) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Omit("BeneficiaryTypes", "Instruments", "Regions", "Funds", "Sectors", "Documents", "Announcements", "Objectives").
		Save(call).Error
}

func (r *grantCallRepo) ReplaceAssociation(ctx context.Context, tx *gorm.DB, call *types.GrantCall, name string, values interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(call).Association(name).Replace(values)
}

type hashRow struct {
	ExternalID  int64
	ContentHash string
	SummaryHash string
}

func (r *grantCallRepo) HashIndex(ctx context.Context, tx *gorm.DB) (map[int64]HashPair, error) {
	return r.hashIndex(ctx, tx, nil)
}

func (r *grantCallRepo) HashIndexFor(ctx context.Context, tx *gorm.DB, externalIDs []int64) (map[int64]HashPair, error) {
	if len(externalIDs) == 0 {
		return map[int64]HashPair{}, nil
	}
	return r.hashIndex(ctx, tx, externalIDs)
}

func (r *grantCallRepo) hashIndex(ctx context.Context, tx *gorm.DB, externalIDs []int64) (map[int64]HashPair, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx).
		Model(&types.GrantCall{}).
		Select("external_id", "content_hash", "summary_hash")
	if len(externalIDs) > 0 {
		q = q.Where("external_id IN ?", externalIDs)
	}

	var rows []hashRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]HashPair, len(rows))
	for _, row := range rows {
		out[row.ExternalID] = HashPair{ContentHash: row.ContentHash, SummaryHash: row.SummaryHash}
	}
	return out, nil
}

func (r *grantCallRepo) StampSynced(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentHash, summaryHash string, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.GrantCall{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content_hash":   contentHash,
			"summary_hash":   summaryHash,
			"last_synced_at": at,
		}).Error
}
