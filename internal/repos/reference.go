package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/types"
)

// ReferenceRepo reads the seeded lookup catalogs. The sync pipeline loads
// them once per unit of work and resolves codes in memory afterwards.
type ReferenceRepo interface {
	ListBeneficiaryTypes(ctx context.Context, tx *gorm.DB) ([]*types.BeneficiaryType, error)
	ListInstruments(ctx context.Context, tx *gorm.DB) ([]*types.Instrument, error)
	ListRegions(ctx context.Context, tx *gorm.DB) ([]*types.Region, error)
	ListFunds(ctx context.Context, tx *gorm.DB) ([]*types.Fund, error)
	ListSectors(ctx context.Context, tx *gorm.DB) ([]*types.Sector, error)
	ListPurposes(ctx context.Context, tx *gorm.DB) ([]*types.Purpose, error)
}

type referenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReferenceRepo(db *gorm.DB, baseLog *logger.Logger) ReferenceRepo {
	repoLog := baseLog.With("repo", "ReferenceRepo")
	return &referenceRepo{db: db, log: repoLog}
}

func (r *referenceRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *referenceRepo) ListBeneficiaryTypes(ctx context.Context, tx *gorm.DB) ([]*types.BeneficiaryType, error) {
	var results []*types.BeneficiaryType
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *referenceRepo) ListInstruments(ctx context.Context, tx *gorm.DB) ([]*types.Instrument, error) {
	var results []*types.Instrument
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *referenceRepo) ListRegions(ctx context.Context, tx *gorm.DB) ([]*types.Region, error) {
	var results []*types.Region
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *referenceRepo) ListFunds(ctx context.Context, tx *gorm.DB) ([]*types.Fund, error) {
	var results []*types.Fund
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *referenceRepo) ListSectors(ctx context.Context, tx *gorm.DB) ([]*types.Sector, error) {
	var results []*types.Sector
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *referenceRepo) ListPurposes(ctx context.Context, tx *gorm.DB) ([]*types.Purpose, error) {
	var results []*types.Purpose
	if err := r.handle(tx).WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
