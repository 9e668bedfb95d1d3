package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
)

// DetailFetcher fetches the full record for one call code.
type DetailFetcher interface {
	Detail(ctx context.Context, code string) (*bdns.CallDetail, error)
}

// CallUpserter merges one detail payload into the store.
type CallUpserter interface {
	Upsert(ctx context.Context, detail *bdns.CallDetail) (*UpsertResult, error)
}

type ProcessorConfig struct {
	// WorkerLimit caps in-flight detail-fetch-and-upsert work per batch,
	// independent of batch size. Sized to the store's connection budget.
	WorkerLimit int
}

// Processor consumes one batch. Item failures (detail fetch, upsert) are
// counted and do not propagate; only batch-scoped failures (cache load, run
// bookkeeping) return an error and reach the orchestrator's retry policy.
type Processor struct {
	log        *logger.Logger
	details    DetailFetcher
	upserter   CallUpserter
	calls      repos.GrantCallRepo
	runs       repos.SyncRunRepo
	dispatcher Dispatcher
	metrics    *observability.Metrics
	cfg        ProcessorConfig
}

type BatchResult struct {
	Processed    int  `json:"processed"`
	Skipped      int  `json:"skipped"`
	Errored      int  `json:"errored"`
	Documents    int  `json:"documents"`
	RunCompleted bool `json:"run_completed"`
}

func NewProcessor(
	log *logger.Logger,
	details DetailFetcher,
	upserter CallUpserter,
	calls repos.GrantCallRepo,
	runs repos.SyncRunRepo,
	dispatcher Dispatcher,
	metrics *observability.Metrics,
	cfg ProcessorConfig,
) *Processor {
	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = 4
	}
	return &Processor{
		log:        log.With("component", "Processor"),
		details:    details,
		upserter:   upserter,
		calls:      calls,
		runs:       runs,
		dispatcher: dispatcher,
		metrics:    metrics,
		cfg:        cfg,
	}
}

func (p *Processor) Process(ctx context.Context, spec BatchSpec) (*BatchResult, error) {
	log := p.log.With(
		"run_id", spec.RunID.String(),
		"batch", fmt.Sprintf("%d/%d", spec.Index+1, spec.Total),
	)
	start := time.Now()
	p.metrics.BatchStarted()
	defer p.metrics.BatchFinished()

	ids := make([]int64, 0, len(spec.Items))
	for _, item := range spec.Items {
		ids = append(ids, item.ExternalID)
	}
	changes := NewChangeCache(p.calls, p.log)
	if err := changes.LoadFor(ctx, ids); err != nil {
		p.metrics.RecordBatch("failed", time.Since(start))
		return nil, err
	}

	var processed, skipped, errored, documents int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.WorkerLimit)
	for _, item := range spec.Items {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			itemStart := time.Now()
			itemLog := log.With("external_id", item.ExternalID, "code", item.Code, "position", item.Position)

			detail, err := p.details.Detail(gctx, item.Code)
			if err != nil {
				if errors.Is(err, bdns.ErrNotFound) {
					itemLog.Warn("Detail no longer served by remote; leaving item for the next run")
				} else {
					itemLog.Warn("Detail fetch failed", "error", err)
				}
				atomic.AddInt64(&errored, 1)
				p.metrics.RecordItem("errored", time.Since(itemStart))
				return nil
			}

			// The launcher's pre-filter ran on summary fields; this is the
			// authoritative check on the full detail.
			contentHash := ContentHash(detail)
			if !changes.ShouldApply(detail.ID, contentHash) {
				atomic.AddInt64(&skipped, 1)
				p.metrics.RecordItem("skipped", time.Since(itemStart))
				return nil
			}

			result, err := p.upserter.Upsert(gctx, detail)
			if err != nil {
				itemLog.Warn("Upsert failed", "error", err)
				atomic.AddInt64(&errored, 1)
				p.metrics.RecordItem("errored", time.Since(itemStart))
				return nil
			}

			for _, job := range result.Documents {
				if err := p.dispatcher.EnqueueDocument(gctx, job); err != nil {
					// The record is committed; a lost document job only
					// delays the attachment until the next content change.
					itemLog.Warn("Document job enqueue failed",
						"document_id", job.DocumentID.String(),
						"error", err,
					)
					continue
				}
				atomic.AddInt64(&documents, 1)
			}

			changes.Update(detail.ID, result.ContentHash, result.SummaryHash)
			atomic.AddInt64(&processed, 1)
			p.metrics.RecordItem("processed", time.Since(itemStart))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.metrics.RecordBatch("failed", time.Since(start))
		return nil, err
	}

	completed, err := p.runs.AddBatchResult(ctx, nil, spec.RunID, int(processed), int(skipped), int(errored))
	if err != nil {
		p.metrics.RecordBatch("failed", time.Since(start))
		return nil, fmt.Errorf("record batch result: %w", err)
	}
	if completed {
		p.metrics.RecordRunFinished("succeeded")
	}

	p.metrics.RecordBatch("ok", time.Since(start))
	log.Info("Batch complete",
		"processed", processed,
		"skipped", skipped,
		"errored", errored,
		"documents", documents,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &BatchResult{
		Processed:    int(processed),
		Skipped:      int(skipped),
		Errored:      int(errored),
		Documents:    int(documents),
		RunCompleted: completed,
	}, nil
}
