package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics()
}

// fakeCallRepo serves hash indexes from memory. The write-side methods are
// only exercised through the sqlite-backed upsert tests, not through fakes.
type fakeCallRepo struct {
	mu      stdsync.Mutex
	hashes  map[int64]repos.HashPair
	hashErr error
}

func (f *fakeCallRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, externalID int64) (*types.GrantCall, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeCallRepo) Save(ctx context.Context, tx *gorm.DB, call *types.GrantCall) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeCallRepo) ReplaceAssociation(ctx context.Context, tx *gorm.DB, call *types.GrantCall, name string, values interface{}) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeCallRepo) HashIndex(ctx context.Context, tx *gorm.DB) (map[int64]repos.HashPair, error) {
	return f.HashIndexFor(ctx, tx, nil)
}

func (f *fakeCallRepo) HashIndexFor(ctx context.Context, tx *gorm.DB, externalIDs []int64) (map[int64]repos.HashPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashErr != nil {
		return nil, f.hashErr
	}
	out := make(map[int64]repos.HashPair, len(f.hashes))
	for k, v := range f.hashes {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCallRepo) StampSynced(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentHash, summaryHash string, at time.Time) error {
	return nil
}

type fakeDispatcher struct {
	mu       stdsync.Mutex
	batches  []BatchSpec
	docs     []DocumentJob
	batchErr error
	docErr   error
}

func (f *fakeDispatcher) EnqueueBatch(ctx context.Context, spec BatchSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, spec)
	return nil
}

func (f *fakeDispatcher) EnqueueDocument(ctx context.Context, job DocumentJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return f.docErr
	}
	f.docs = append(f.docs, job)
	return nil
}

func (f *fakeDispatcher) documentJobs() []DocumentJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DocumentJob(nil), f.docs...)
}

// fakePager serves canned pages and optionally fails one of them.
type fakePager struct {
	pages    [][]bdns.SearchItem
	failPage int // -1 disables
}

func (f *fakePager) FetchPage(ctx context.Context, page int, fromDate *time.Time) (*bdns.SearchPage, error) {
	if page == f.failPage {
		return nil, &bdns.FetchError{Op: "search", Page: page, StatusCode: 500, Err: fmt.Errorf("boom")}
	}
	if page >= len(f.pages) {
		return &bdns.SearchPage{Last: true}, nil
	}
	return &bdns.SearchPage{
		Content: f.pages[page],
		Last:    page == len(f.pages)-1,
	}, nil
}

type fakeDetailer struct {
	details map[string]*bdns.CallDetail
	errs    map[string]error
}

func (f *fakeDetailer) Detail(ctx context.Context, code string) (*bdns.CallDetail, error) {
	if err, ok := f.errs[code]; ok {
		return nil, err
	}
	d, ok := f.details[code]
	if !ok {
		return nil, bdns.ErrNotFound
	}
	return d, nil
}

type fakeUpserter struct {
	mu      stdsync.Mutex
	results map[int64]*UpsertResult
	errs    map[int64]error
	calls   []int64
}

func (f *fakeUpserter) Upsert(ctx context.Context, detail *bdns.CallDetail) (*UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, detail.ID)
	if err, ok := f.errs[detail.ID]; ok {
		return nil, err
	}
	if res, ok := f.results[detail.ID]; ok {
		return res, nil
	}
	return &UpsertResult{
		GrantCallID: uuid.New(),
		ContentHash: ContentHash(detail),
		SummaryHash: SummaryHashFromDetail(detail),
	}, nil
}

// fakeRunRepo tracks the counters the processor folds in.
type fakeRunRepo struct {
	mu           stdsync.Mutex
	batchesTotal int
	batchesDone  int
	processed    int
	skipped      int
	errored      int
	addErr       error
}

func (f *fakeRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.SyncRun) (*types.SyncRun, error) {
	return run, nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SyncRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.SyncRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) MarkRunning(ctx context.Context, tx *gorm.DB, id uuid.UUID, startedAt time.Time) error {
	return nil
}

func (f *fakeRunRepo) MarkLaunched(ctx context.Context, tx *gorm.DB, id uuid.UUID, pages, candidates, prefiltered, batches int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchesTotal = batches
	f.skipped += prefiltered
	return batches == 0 || f.batchesDone >= batches, nil
}

func (f *fakeRunRepo) AddBatchResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, processed, skipped, errored int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return false, f.addErr
	}
	f.batchesDone++
	f.processed += processed
	f.skipped += skipped
	f.errored += errored
	return f.batchesTotal > 0 && f.batchesDone >= f.batchesTotal, nil
}

func (f *fakeRunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errText string) error {
	return nil
}

func (f *fakeRunRepo) LastSuccessfulFinishedAt(ctx context.Context, tx *gorm.DB) (*time.Time, error) {
	return nil, nil
}
