package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
)

type RefCategory string

const (
	RefBeneficiaryType RefCategory = "beneficiary_type"
	RefInstrument      RefCategory = "instrument"
	RefRegion          RefCategory = "region"
	RefFund            RefCategory = "fund"
	RefSector          RefCategory = "sector"
	RefPurpose         RefCategory = "purpose"
)

// RefCache maps remote reference keys to catalog row ids. Load swaps the
// whole index at once; Resolve only ever sees a complete snapshot. Rows are
// indexed both by code and by name because the remote reports a code for
// some catalogs and only a description for others.
type RefCache struct {
	log  *logger.Logger
	repo repos.ReferenceRepo

	mu         sync.RWMutex
	byCategory map[RefCategory]map[string]uuid.UUID
}

func NewRefCache(repo repos.ReferenceRepo, baseLog *logger.Logger) *RefCache {
	return &RefCache{
		log:        baseLog.With("component", "RefCache"),
		repo:       repo,
		byCategory: map[RefCategory]map[string]uuid.UUID{},
	}
}

func (c *RefCache) Load(ctx context.Context) error {
	idx := map[RefCategory]map[string]uuid.UUID{
		RefBeneficiaryType: {},
		RefInstrument:      {},
		RefRegion:          {},
		RefFund:            {},
		RefSector:          {},
		RefPurpose:         {},
	}

	bts, err := c.repo.ListBeneficiaryTypes(ctx, nil)
	if err != nil {
		return fmt.Errorf("load beneficiary types: %w", err)
	}
	for _, v := range bts {
		index(idx[RefBeneficiaryType], v.Code, v.Name, v.ID)
	}

	ins, err := c.repo.ListInstruments(ctx, nil)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	for _, v := range ins {
		index(idx[RefInstrument], v.Code, v.Name, v.ID)
	}

	regs, err := c.repo.ListRegions(ctx, nil)
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}
	for _, v := range regs {
		index(idx[RefRegion], v.Code, v.Name, v.ID)
	}

	funds, err := c.repo.ListFunds(ctx, nil)
	if err != nil {
		return fmt.Errorf("load funds: %w", err)
	}
	for _, v := range funds {
		index(idx[RefFund], v.Code, v.Name, v.ID)
	}

	secs, err := c.repo.ListSectors(ctx, nil)
	if err != nil {
		return fmt.Errorf("load sectors: %w", err)
	}
	for _, v := range secs {
		index(idx[RefSector], v.Code, v.Name, v.ID)
	}

	purs, err := c.repo.ListPurposes(ctx, nil)
	if err != nil {
		return fmt.Errorf("load purposes: %w", err)
	}
	for _, v := range purs {
		index(idx[RefPurpose], v.Code, v.Name, v.ID)
	}

	c.mu.Lock()
	c.byCategory = idx
	c.mu.Unlock()
	c.log.Debug("Reference cache loaded",
		"beneficiary_types", len(idx[RefBeneficiaryType]),
		"instruments", len(idx[RefInstrument]),
		"regions", len(idx[RefRegion]),
		"funds", len(idx[RefFund]),
		"sectors", len(idx[RefSector]),
		"purposes", len(idx[RefPurpose]),
	)
	return nil
}

// Resolve returns the catalog id for a remote key. A miss is a data-quality
// condition for the caller to log, never an error.
func (c *RefCache) Resolve(category RefCategory, key string) (uuid.UUID, bool) {
	c.mu.RLock()
	m, ok := c.byCategory[category]
	c.mu.RUnlock()
	if !ok {
		return uuid.Nil, false
	}
	id, ok := m[normalizeRefKey(key)]
	return id, ok
}

func index(m map[string]uuid.UUID, code, name string, id uuid.UUID) {
	if k := normalizeRefKey(code); k != "" {
		m[k] = id
	}
	if k := normalizeRefKey(name); k != "" {
		if _, taken := m[k]; !taken {
			m[k] = id
		}
	}
}

func normalizeRefKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
