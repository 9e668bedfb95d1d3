package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
)

// ChangeCache holds the {external id -> stored hashes} map for one unit of
// work. It is an optimization over the store, never the source of truth:
// Update must only be called after the record is durably committed.
type ChangeCache struct {
	log   *logger.Logger
	calls repos.GrantCallRepo

	mu      sync.RWMutex
	entries map[int64]repos.HashPair
}

func NewChangeCache(calls repos.GrantCallRepo, baseLog *logger.Logger) *ChangeCache {
	return &ChangeCache{
		log:     baseLog.With("component", "ChangeCache"),
		calls:   calls,
		entries: map[int64]repos.HashPair{},
	}
}

// Load populates the cache with the hash index of the whole catalog.
func (c *ChangeCache) Load(ctx context.Context) error {
	idx, err := c.calls.HashIndex(ctx, nil)
	if err != nil {
		return fmt.Errorf("load change cache: %w", err)
	}
	c.mu.Lock()
	c.entries = idx
	c.mu.Unlock()
	c.log.Debug("Change cache loaded", "entries", len(idx))
	return nil
}

// LoadFor populates the cache for a known id set only, which is all a batch
// worker ever consults.
func (c *ChangeCache) LoadFor(ctx context.Context, externalIDs []int64) error {
	idx, err := c.calls.HashIndexFor(ctx, nil, externalIDs)
	if err != nil {
		return fmt.Errorf("load change cache: %w", err)
	}
	c.mu.Lock()
	c.entries = idx
	c.mu.Unlock()
	return nil
}

// ShouldPrefetch is the launcher's cheap gate, keyed on the summary hash.
// Unknown ids and rows without a stored summary hash are always candidates.
func (c *ChangeCache) ShouldPrefetch(externalID int64, summaryHash string) bool {
	c.mu.RLock()
	entry, ok := c.entries[externalID]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	if entry.SummaryHash == "" {
		return true
	}
	return entry.SummaryHash != summaryHash
}

// ShouldApply is the authoritative gate, keyed on the detail content hash.
func (c *ChangeCache) ShouldApply(externalID int64, contentHash string) bool {
	c.mu.RLock()
	entry, ok := c.entries[externalID]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return entry.ContentHash != contentHash
}

// Update records a durably committed record. Writers within a batch never
// share a key, so per-key overwrites cannot race meaningfully.
func (c *ChangeCache) Update(externalID int64, contentHash, summaryHash string) {
	c.mu.Lock()
	c.entries[externalID] = repos.HashPair{ContentHash: contentHash, SummaryHash: summaryHash}
	c.mu.Unlock()
}

func (c *ChangeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
