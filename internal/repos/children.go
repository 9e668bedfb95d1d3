package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/types"
)

// Owned-collection repos. ReplaceForGrantCall is delete-then-recreate and is
// only atomic if the caller runs it inside a transaction; the upserter does.

type GrantDocumentRepo interface {
	ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, docs []*types.GrantDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GrantDocument, error)
	ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantDocument, error)
	SetStorage(ctx context.Context, tx *gorm.DB, id uuid.UUID, storageKey, fileURL string) error
}

type grantDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrantDocumentRepo(db *gorm.DB, baseLog *logger.Logger) GrantDocumentRepo {
	repoLog := baseLog.With("repo", "GrantDocumentRepo")
	return &grantDocumentRepo{db: db, log: repoLog}
}

func (r *grantDocumentRepo) ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, docs []*types.GrantDocument) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Delete(&types.GrantDocument{}).Error; err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&docs).Error
}

func (r *grantDocumentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GrantDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.GrantDocument
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *grantDocumentRepo) ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.GrantDocument
	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *grantDocumentRepo) SetStorage(ctx context.Context, tx *gorm.DB, id uuid.UUID, storageKey, fileURL string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.GrantDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"storage_key": storageKey,
			"file_url":    fileURL,
		}).Error
}

type GrantAnnouncementRepo interface {
	ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, anns []*types.GrantAnnouncement) error
	ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantAnnouncement, error)
}

type grantAnnouncementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrantAnnouncementRepo(db *gorm.DB, baseLog *logger.Logger) GrantAnnouncementRepo {
	repoLog := baseLog.With("repo", "GrantAnnouncementRepo")
	return &grantAnnouncementRepo{db: db, log: repoLog}
}

func (r *grantAnnouncementRepo) ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, anns []*types.GrantAnnouncement) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Delete(&types.GrantAnnouncement{}).Error; err != nil {
		return err
	}
	if len(anns) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&anns).Error
}

func (r *grantAnnouncementRepo) ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantAnnouncement, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.GrantAnnouncement
	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type GrantObjectiveRepo interface {
	ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, objs []*types.GrantObjective) error
	ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantObjective, error)
}

type grantObjectiveRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrantObjectiveRepo(db *gorm.DB, baseLog *logger.Logger) GrantObjectiveRepo {
	repoLog := baseLog.With("repo", "GrantObjectiveRepo")
	return &grantObjectiveRepo{db: db, log: repoLog}
}

func (r *grantObjectiveRepo) ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, objs []*types.GrantObjective) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Delete(&types.GrantObjective{}).Error; err != nil {
		return err
	}
	if len(objs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&objs).Error
}

func (r *grantObjectiveRepo) ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantObjective, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.GrantObjective
	if err := transaction.WithContext(ctx).
		Where("grant_call_id = ?", grantCallID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
