package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
)

// Pager yields one page of call summaries at a time. Implemented by the BDNS
// client in production and by canned pages in tests.
type Pager interface {
	FetchPage(ctx context.Context, page int, fromDate *time.Time) (*bdns.SearchPage, error)
}

type LauncherConfig struct {
	BatchSize int
	// MaxPages bounds a run as a safety stop; 0 means drain to the last page.
	MaxPages int
}

// Launcher drains the paginator, pre-filters against the change cache, and
// partitions the surviving candidates into batch jobs. A page failure aborts
// the whole run: a silently truncated candidate list would skip records
// without anyone noticing.
type Launcher struct {
	log        *logger.Logger
	pager      Pager
	changes    *ChangeCache
	dispatcher Dispatcher
	metrics    *observability.Metrics
	cfg        LauncherConfig
}

type LaunchResult struct {
	Pages      int `json:"pages"`
	Seen       int `json:"seen"`
	Candidates int `json:"candidates"`
	Batches    int `json:"batches"`
}

func NewLauncher(log *logger.Logger, pager Pager, changes *ChangeCache, dispatcher Dispatcher, metrics *observability.Metrics, cfg LauncherConfig) *Launcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Launcher{
		log:        log.With("component", "Launcher"),
		pager:      pager,
		changes:    changes,
		dispatcher: dispatcher,
		metrics:    metrics,
		cfg:        cfg,
	}
}

func (l *Launcher) Run(ctx context.Context, runID uuid.UUID, fromDate *time.Time) (*LaunchResult, error) {
	log := l.log.With("run_id", runID.String())

	if err := l.changes.Load(ctx); err != nil {
		return nil, err
	}

	var (
		stubs []ItemStub
		seen  int
		pages int
	)
	for page := 0; ; page++ {
		sp, err := l.pager.FetchPage(ctx, page, fromDate)
		if err != nil {
			return nil, fmt.Errorf("launch aborted at page %d: %w", page, err)
		}
		pages++
		l.metrics.RecordPageFetched(len(sp.Content))

		for i := range sp.Content {
			item := &sp.Content[i]
			position := seen
			seen++
			if !l.changes.ShouldPrefetch(item.ID, SummaryHash(item)) {
				continue
			}
			stubs = append(stubs, ItemStub{
				ExternalID: item.ID,
				Code:       item.Code,
				Title:      item.Description,
				Position:   position,
			})
		}

		if sp.Last || len(sp.Content) == 0 {
			break
		}
		if l.cfg.MaxPages > 0 && pages >= l.cfg.MaxPages {
			log.Warn("Page cap reached before last page", "pages", pages)
			break
		}
	}

	batches := partition(stubs, l.cfg.BatchSize)
	for i, items := range batches {
		spec := BatchSpec{
			RunID: runID,
			Index: i,
			Total: len(batches),
			Items: items,
		}
		if err := l.dispatcher.EnqueueBatch(ctx, spec); err != nil {
			return nil, fmt.Errorf("enqueue batch %d/%d: %w", i+1, len(batches), err)
		}
	}

	log.Info("Launch complete",
		"pages", pages,
		"seen", seen,
		"candidates", len(stubs),
		"batches", len(batches),
	)
	return &LaunchResult{
		Pages:      pages,
		Seen:       seen,
		Candidates: len(stubs),
		Batches:    len(batches),
	}, nil
}

func partition(items []ItemStub, size int) [][]ItemStub {
	if len(items) == 0 {
		return nil
	}
	out := make([][]ItemStub, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
