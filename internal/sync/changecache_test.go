package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/openfondos/grantmirror/internal/repos"
)

func TestChangeCacheGates(t *testing.T) {
	repo := &fakeCallRepo{hashes: map[int64]repos.HashPair{
		1: {ContentHash: "c1", SummaryHash: "s1"},
		2: {ContentHash: "c2"},
	}}
	cache := NewChangeCache(repo, testLogger(t))
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.Len())
	}

	// Unknown id is always a candidate.
	if !cache.ShouldPrefetch(99, "anything") {
		t.Fatalf("unknown id must be prefetched")
	}
	if !cache.ShouldApply(99, "anything") {
		t.Fatalf("unknown id must be applied")
	}

	// Matching summary hash filters the item out.
	if cache.ShouldPrefetch(1, "s1") {
		t.Fatalf("matching summary hash must not be prefetched")
	}
	if !cache.ShouldPrefetch(1, "s1-changed") {
		t.Fatalf("differing summary hash must be prefetched")
	}

	// A row committed before summary hashes existed has an empty stored
	// summary; it stays a candidate until the detail check settles it.
	if !cache.ShouldPrefetch(2, "s2") {
		t.Fatalf("empty stored summary hash must be prefetched")
	}

	if cache.ShouldApply(1, "c1") {
		t.Fatalf("matching content hash must not be applied")
	}
	if !cache.ShouldApply(1, "c1-changed") {
		t.Fatalf("differing content hash must be applied")
	}
}

func TestChangeCacheUpdateAfterCommit(t *testing.T) {
	cache := NewChangeCache(&fakeCallRepo{hashes: map[int64]repos.HashPair{}}, testLogger(t))
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	cache.Update(5, "c5", "s5")
	if cache.ShouldApply(5, "c5") {
		t.Fatalf("updated entry must gate the same content hash")
	}
	if cache.ShouldPrefetch(5, "s5") {
		t.Fatalf("updated entry must gate the same summary hash")
	}
	if !cache.ShouldApply(5, "c5'") {
		t.Fatalf("updated entry must pass a new content hash")
	}
}

func TestChangeCacheLoadPropagatesStoreError(t *testing.T) {
	repo := &fakeCallRepo{hashErr: fmt.Errorf("store down")}
	cache := NewChangeCache(repo, testLogger(t))
	if err := cache.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if err := cache.LoadFor(context.Background(), []int64{1}); err == nil {
		t.Fatalf("expected load error")
	}
}
