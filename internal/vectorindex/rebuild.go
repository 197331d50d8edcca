package vectorindex

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BugSource supplies the full set of embeddable bugs for a rebuild, per
// §4.6's background rebuild design: select all bugs with embeddings in
// eligible statuses.
type BugSource interface {
	EligibleEmbeddings(ctx context.Context) (ids []uuid.UUID, vectors [][]float32, err error)
}

// RebuildWorker periodically reconstructs a fresh Index from storage,
// snapshots it, then swaps it in atomically, per §4.6. Ingestion continues
// against the live instance throughout the rebuild.
//
// Lifecycle mirrors an outbox-style background worker: Start begins the
// scheduled loop, Drain stops it and blocks until the in-flight rebuild (if
// any) finishes or the context expires.
type RebuildWorker struct {
	source       BugSource
	dims         int
	snapshotPath string
	interval     time.Duration
	logger       *slog.Logger

	live atomic.Pointer[Index]

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainOnce  sync.Once
	drainCh    chan context.Context
}

// NewRebuildWorker wires a worker around an already-live Index. interval is
// the period between scheduled rebuilds (default: daily at a fixed local
// time, enforced by the caller choosing when to invoke RunOnce via a cron
// schedule rather than this worker's own ticker, when daily-at-fixed-time
// semantics are required).
func NewRebuildWorker(live *Index, source BugSource, dims int, snapshotPath string, interval time.Duration, logger *slog.Logger) *RebuildWorker {
	w := &RebuildWorker{
		source:       source,
		dims:         dims,
		snapshotPath: snapshotPath,
		interval:     interval,
		logger:       logger,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
	w.live.Store(live)
	return w
}

// Live returns the current live index for Add/Search use by the detector.
func (w *RebuildWorker) Live() *Index { return w.live.Load() }

// Start begins the scheduled rebuild loop. Safe to call only once.
func (w *RebuildWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("vectorindex rebuild: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.loop(loopCtx)
}

// Drain stops the scheduled loop and blocks until it exits or ctx expires.
// Safe to call multiple times; only the first call has effect.
func (w *RebuildWorker) Drain(ctx context.Context) {
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

func (w *RebuildWorker) loop(ctx context.Context) {
	defer w.once.Do(func() { close(w.done) })

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("vectorindex rebuild failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single rebuild cycle: fetch eligible bugs, build a
// fresh index in a new instance, snapshot it, then atomically swap the
// live pointer. The old live instance remains valid for any Search call
// already in flight against it.
func (w *RebuildWorker) RunOnce(ctx context.Context) error {
	ids, vectors, err := w.source.EligibleEmbeddings(ctx)
	if err != nil {
		return err
	}

	fresh := New(w.dims)
	if err := fresh.Rebuild(vectors, ids); err != nil {
		return err
	}
	if w.snapshotPath != "" {
		if err := fresh.Snapshot(w.snapshotPath); err != nil {
			w.logger.Error("vectorindex rebuild: snapshot failed, continuing with in-memory swap", "error", err)
		}
	}

	w.live.Store(fresh)
	w.logger.Info("vectorindex rebuild complete", "count", len(ids))
	return nil
}
