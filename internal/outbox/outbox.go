// Package outbox implements the PendingReindex compensation loop: bugs
// whose row committed but whose vector-index insert failed get retried
// here instead of waiting for the next scheduled full rebuild.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/bugdedup/internal/storage"
	"github.com/ashita-ai/bugdedup/internal/vectorindex"
)

// maxReindexAttempts is the attempt count from which a failed re-add is
// logged as a dead letter. The entry keeps PendingReindex status and is still
// retried on every poll; the next full RebuildWorker cycle also picks it up.
const maxReindexAttempts = 10

// Store is the storage dependency this worker needs.
type Store interface {
	ListPendingReindex(ctx context.Context, limit int) ([]storage.PendingReindexEntry, error)
	ResolvePendingReindex(ctx context.Context, id uuid.UUID) error
	BumpReindexAttempts(ctx context.Context, id uuid.UUID) error
}

// ReindexWorker periodically retries adding PendingReindex bugs to the live
// vector index. Lifecycle mirrors vectorindex.RebuildWorker and the
// teacher's search-outbox poller: atomic started flag, cancelable loop,
// done channel closed exactly once, drain blocks for the final batch.
type ReindexWorker struct {
	store        Store
	index        *vectorindex.RebuildWorker
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainOnce  sync.Once
	drainCh    chan context.Context
}

func NewReindexWorker(store Store, index *vectorindex.RebuildWorker, logger *slog.Logger, pollInterval time.Duration, batchSize int) *ReindexWorker {
	return &ReindexWorker{
		store:        store,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the poll loop. Safe to call only once.
func (w *ReindexWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("reindex outbox: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.loop(loopCtx)
}

// Drain stops the loop and blocks for the final batch or until ctx expires.
func (w *ReindexWorker) Drain(ctx context.Context) {
	w.drainOnce.Do(func() {
		if w.cancelLoop != nil {
			w.cancelLoop()
		}
		w.drainCh <- ctx
		close(w.drainCh)
	})
	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *ReindexWorker) loop(ctx context.Context) {
	defer w.once.Do(func() { close(w.done) })

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx == nil {
				drainCtx = context.Background()
			}
			w.RunOnce(drainCtx)
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce retries one batch of PendingReindex bugs.
func (w *ReindexWorker) RunOnce(ctx context.Context) {
	entries, err := w.store.ListPendingReindex(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("reindex outbox: list pending", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	live := w.index.Live()
	for _, e := range entries {
		if err := live.Add([][]float32{e.Embedding}, []uuid.UUID{e.ID}); err != nil {
			if bumpErr := w.store.BumpReindexAttempts(ctx, e.ID); bumpErr != nil {
				w.logger.Error("reindex outbox: bump attempts", "bug_id", e.ID, "error", bumpErr)
			}
			if e.Attempts+1 >= maxReindexAttempts {
				w.logger.Warn("reindex outbox: dead-letter entry, deferring to next full rebuild", "bug_id", e.ID, "attempts", e.Attempts+1, "error", err)
			}
			continue
		}
		if err := w.store.ResolvePendingReindex(ctx, e.ID); err != nil {
			w.logger.Error("reindex outbox: resolve pending reindex", "bug_id", e.ID, "error", err)
		}
	}
}
