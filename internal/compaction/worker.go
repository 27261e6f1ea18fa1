package compaction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/crdtd/internal/crdt"
	"github.com/cuemby/crdtd/internal/store"
	"github.com/cuemby/crdtd/pkg/log"
	"github.com/cuemby/crdtd/pkg/metrics"
)

const candidateLimit = 10

// Worker periodically re-snapshots documents whose update log has grown
// past the configured threshold and truncates the log entries the new
// snapshot now covers.
type Worker struct {
	logs      store.LogStore
	snapshots store.Snapshotter
	threshold int
	interval  time.Duration
	trigger   <-chan uuid.UUID
	logger    zerolog.Logger

	stopCh chan struct{}
}

// NewWorker builds a compaction Worker. trigger, if non-nil, lets the
// registry wake the worker early for a specific document instead of
// waiting out the full interval.
func NewWorker(logs store.LogStore, snapshots store.Snapshotter, threshold int, interval time.Duration, trigger <-chan uuid.UUID) *Worker {
	return &Worker{
		logs:      logs,
		snapshots: snapshots,
		threshold: threshold,
		interval:  interval,
		trigger:   trigger,
		logger:    log.WithComponent("compaction"),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the worker loop in a new goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop terminates the worker loop.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	metrics.SetWorkerRunning(true)
	defer metrics.SetWorkerRunning(false)

	w.logger.Info().Dur("interval", w.interval).Msg("worker started")

	for {
		select {
		case <-ticker.C:
			w.tick(context.Background())
		case docID := <-w.trigger:
			w.compactOne(context.Background(), docID)
		case <-w.stopCh:
			w.logger.Info().Msg("worker stopped")
			return
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CompactionDuration)

	candidates, err := w.logs.Candidates(ctx, w.threshold, candidateLimit)
	if err != nil {
		w.logger.Error().Err(err).Msg("list candidates")
		return
	}
	metrics.CompactionCandidates.Set(float64(len(candidates)))
	metrics.SetPendingSnapshots(len(candidates))

	for _, docID := range candidates {
		w.compactOne(ctx, docID)
	}
}

// compactOne hydrates a document's full state from its current snapshot
// plus log tail, saves a fresh snapshot, and truncates the log entries
// the snapshot now covers. Failures are logged and skipped rather than
// aborting the tick, matching the reconciliation loop's log-and-continue
// error handling.
func (w *Worker) compactOne(ctx context.Context, docID uuid.UUID) {
	cutoff := time.Now()

	snap, err := w.snapshots.Load(ctx, docID)
	if err != nil {
		w.failed(docID, "load snapshot", err)
		return
	}
	updates, err := w.logs.ReadSince(ctx, docID, nil)
	if err != nil {
		w.failed(docID, "read log", err)
		return
	}

	state, err := crdt.Hydrate(snap, updates)
	if err != nil {
		w.failed(docID, "hydrate", err)
		return
	}

	data, err := crdt.Encode(state)
	if err != nil {
		w.failed(docID, "encode", err)
		return
	}

	if _, err := w.snapshots.Save(ctx, docID, data); err != nil {
		w.failed(docID, "save snapshot", err)
		return
	}

	if err := w.logs.TruncateBefore(ctx, docID, cutoff); err != nil {
		w.failed(docID, "truncate log", err)
		return
	}

	metrics.CompactionsTotal.WithLabelValues("success").Inc()
}

// failed records one compaction step's failure; the document is retried
// on a later tick.
func (w *Worker) failed(docID uuid.UUID, step string, err error) {
	w.logger.Error().Err(err).Stringer("document_id", docID).Msg(step)
	metrics.CompactionsTotal.WithLabelValues("failed").Inc()
}
