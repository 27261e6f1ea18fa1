package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/crdt"
	"github.com/cuemby/crdtd/internal/store"
	"github.com/cuemby/crdtd/pkg/log"
	"github.com/cuemby/crdtd/pkg/metrics"
)

// Replica is one document's live CRDT state plus the bookkeeping needed
// to debounce persistence and evict the replica once nobody is editing
// it.
type Replica struct {
	DocID uuid.UUID

	mu        sync.Mutex
	state     *crdt.State
	clients   map[string]struct{}
	awareness map[string][]byte // clientID -> opaque presence bytes, never persisted

	lastActivity time.Time
	pendingSince time.Time
	storeTimer   *time.Timer
	storePending bool

	// logLength approximates how many log entries exist for this
	// document: seeded from the tail read at hydration, bumped per
	// append, reset when the compaction trigger fires. It saves a
	// database count on every edit; the compaction worker re-derives
	// the authoritative count on its own tick.
	logLength int

	// readOnly marks a quarantined replica: a stored update failed to
	// decode, so the replica serves the last good snapshot, rejects
	// writes, and never persists (a store or truncation would destroy
	// the log entries an operator needs to repair the document).
	readOnly bool
}

// Registry is the process-wide map of active replicas.
type Registry struct {
	logs      store.LogStore
	snapshots store.Snapshotter

	idleTTL             time.Duration
	storeDebounce       time.Duration
	storeMaxDelay       time.Duration
	compactionThreshold int
	logger              zerolog.Logger

	mu       sync.Mutex
	replicas map[uuid.UUID]*Replica

	compactionTrigger chan<- uuid.UUID
}

// New builds a Registry over the log and snapshot stores. idleTTL is how
// long a replica with no attached clients is kept before eviction;
// storeDebounce/storeMaxDelay bound how long a burst of edits can be
// coalesced before a persistence write; compactionThreshold is the
// per-document update count at which the registry signals the
// compaction worker early via compactionTrigger, which, if non-nil,
// receives a document id whenever its log reaches that threshold
// between ticks, letting the compaction worker react sooner than its
// next scheduled pass.
func New(logs store.LogStore, snapshots store.Snapshotter, idleTTL, storeDebounce, storeMaxDelay time.Duration, compactionThreshold int, compactionTrigger chan<- uuid.UUID) *Registry {
	return &Registry{
		logs:                logs,
		snapshots:           snapshots,
		idleTTL:             idleTTL,
		storeDebounce:       storeDebounce,
		storeMaxDelay:       storeMaxDelay,
		compactionThreshold: compactionThreshold,
		logger:              log.WithComponent("registry"),
		replicas:            make(map[uuid.UUID]*Replica),
		compactionTrigger:   compactionTrigger,
	}
}

// Acquire returns the replica for docID, hydrating it from storage on
// first access, and registers clientID as attached to it.
func (r *Registry) Acquire(ctx context.Context, docID uuid.UUID, clientID string) (*Replica, error) {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	if !ok {
		rep = &Replica{DocID: docID, clients: make(map[string]struct{}), awareness: make(map[string][]byte)}
		r.replicas[docID] = rep
	}
	r.mu.Unlock()

	rep.mu.Lock()

	if rep.state == nil {
		state, count, readOnly, err := r.hydrate(ctx, docID)
		if err != nil {
			rep.mu.Unlock()
			r.removeIfVacant(docID, rep)
			metrics.ReplicaAdmissionsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		rep.state = state
		rep.logLength = count
		rep.readOnly = readOnly
		metrics.ReplicaAdmissionsTotal.WithLabelValues("hydrated").Inc()
		metrics.ReplicasActive.Inc()
	} else {
		metrics.ReplicaAdmissionsTotal.WithLabelValues("hit").Inc()
	}

	rep.clients[clientID] = struct{}{}
	rep.lastActivity = time.Now()
	rep.mu.Unlock()
	return rep, nil
}

// hydrate loads snapshot plus log tail and folds them into a state. A
// stored update that no longer decodes quarantines the document instead
// of failing admission: the replica serves the snapshot alone, read-only,
// and the log is left intact for repair.
func (r *Registry) hydrate(ctx context.Context, docID uuid.UUID) (*crdt.State, int, bool, error) {
	timer := metrics.NewTimer()
	snap, err := r.snapshots.Load(ctx, docID)
	if err != nil {
		return nil, 0, false, err
	}
	updates, err := r.logs.ReadSince(ctx, docID, nil)
	if err != nil {
		return nil, 0, false, err
	}
	state, err := crdt.Hydrate(snap, updates)
	if err != nil {
		r.logger.Error().Err(err).Stringer("document_id", docID).Msg("stored update failed to decode, quarantining document")
		snapOnly, snapErr := crdt.Hydrate(snap, nil)
		if snapErr != nil {
			return nil, 0, false, apperr.Wrap(apperr.Fatal, "hydrate replica", snapErr)
		}
		return snapOnly, len(updates), true, nil
	}
	timer.ObserveDuration(metrics.ReplicaHydrateDuration)
	return state, len(updates), false, nil
}

// removeIfVacant drops a placeholder whose hydration failed, so the next
// admission attempt starts fresh instead of finding a dead entry. The
// entry stays if another acquirer got a client attached in the meantime.
func (r *Registry) removeIfVacant(docID uuid.UUID, rep *Replica) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.replicas[docID]
	if !ok || current != rep {
		return
	}
	rep.mu.Lock()
	vacant := rep.state == nil && len(rep.clients) == 0
	rep.mu.Unlock()
	if vacant {
		delete(r.replicas, docID)
	}
}

// Release detaches clientID from the replica and, if it was the last
// client, schedules the replica for idle eviction after idleTTL.
func (r *Registry) Release(ctx context.Context, docID uuid.UUID, clientID string) {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	r.mu.Unlock()
	if !ok {
		return
	}

	rep.mu.Lock()
	delete(rep.clients, clientID)
	delete(rep.awareness, clientID)
	empty := len(rep.clients) == 0
	rep.mu.Unlock()

	if empty {
		time.AfterFunc(r.idleTTL, func() { r.evictIfIdle(ctx, docID) })
	}
}

// SetAwareness stores per-client ephemeral presence bytes (cursor,
// selection, and the like) on the replica. Awareness is never appended
// to the log store or included in a snapshot: it only lives for as long
// as the replica is resident in memory.
func (r *Registry) SetAwareness(docID uuid.UUID, clientID string, data []byte) error {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	r.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "replica not acquired")
	}

	rep.mu.Lock()
	rep.awareness[clientID] = data
	rep.lastActivity = time.Now()
	rep.mu.Unlock()
	return nil
}

func (r *Registry) evictIfIdle(ctx context.Context, docID uuid.UUID) {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	rep.mu.Lock()
	idle := len(rep.clients) == 0
	rep.mu.Unlock()
	if !idle {
		return
	}

	if err := r.StoreNow(ctx, docID); err != nil {
		r.logger.Error().Err(err).Stringer("document_id", docID).Msg("final store before eviction failed")
	}

	r.mu.Lock()
	rep2, ok := r.replicas[docID]
	if ok {
		rep2.mu.Lock()
		stillIdle := len(rep2.clients) == 0
		rep2.mu.Unlock()
		if stillIdle {
			delete(r.replicas, docID)
			metrics.ReplicasActive.Dec()
			metrics.ReplicaEvictionsTotal.Inc()
		}
	}
	r.mu.Unlock()
}

// Apply applies a CRDT op's encoded update to the replica's in-memory
// state, appends it to the log store, and schedules a debounced
// snapshot store.
func (r *Registry) Apply(ctx context.Context, docID uuid.UUID, update []byte) error {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	r.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "replica not acquired")
	}

	rep.mu.Lock()
	if rep.readOnly {
		rep.mu.Unlock()
		return apperr.New(apperr.Fatal, "document quarantined, writes rejected")
	}
	if err := crdt.Merge(rep.state, update); err != nil {
		rep.mu.Unlock()
		return apperr.Wrap(apperr.ValidationFailed, "apply update", err)
	}
	rep.lastActivity = time.Now()
	rep.mu.Unlock()

	if err := r.logs.Append(ctx, docID, update); err != nil {
		return err
	}
	metrics.SessionUpdatesTotal.Inc()

	r.scheduleStore(ctx, rep)

	if r.compactionTrigger != nil {
		rep.mu.Lock()
		rep.logLength++
		crossed := rep.logLength >= r.compactionThreshold
		if crossed {
			rep.logLength = 0
		}
		rep.mu.Unlock()
		if crossed {
			select {
			case r.compactionTrigger <- docID:
			default:
			}
		}
	}

	return nil
}

// scheduleStore debounces snapshot persistence: a burst of edits resets
// the timer up to storeMaxDelay after the first pending edit, after
// which the store happens unconditionally.
func (r *Registry) scheduleStore(ctx context.Context, rep *Replica) {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	now := time.Now()
	if !rep.storePending {
		rep.storePending = true
		rep.pendingSince = now
	}

	delay := r.storeDebounce
	if now.Sub(rep.pendingSince)+r.storeDebounce > r.storeMaxDelay {
		delay = r.storeMaxDelay - now.Sub(rep.pendingSince)
		if delay < 0 {
			delay = 0
		}
	}

	if rep.storeTimer != nil {
		rep.storeTimer.Stop()
	}
	rep.storeTimer = time.AfterFunc(delay, func() {
		if err := r.StoreNow(ctx, rep.DocID); err != nil {
			r.logger.Error().Err(err).Stringer("document_id", rep.DocID).Msg("debounced store failed")
		}
	})
}

// StoreNow encodes the replica's full state and saves it as the current
// snapshot immediately, bypassing the debounce window. It saves nothing
// when the document has no resident replica, when no edits are pending
// since the last store, or when the replica is quarantined read-only.
func (r *Registry) StoreNow(ctx context.Context, docID uuid.UUID) error {
	r.mu.Lock()
	rep, ok := r.replicas[docID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rep.mu.Lock()
	if !rep.storePending || rep.readOnly {
		rep.mu.Unlock()
		return nil
	}
	data, err := crdt.Encode(rep.state)
	rep.storePending = false
	rep.mu.Unlock()
	if err != nil {
		return apperr.Wrap(apperr.Fatal, "encode replica state", err)
	}

	timer := metrics.NewTimer()
	storage := "inline"
	if int64(len(data)) > snapshotSizeLimitHint {
		storage = "blob"
	}
	_, err = r.snapshots.Save(ctx, docID, data)
	timer.ObserveDurationVec(metrics.SnapshotSaveDuration, storage)
	if err != nil {
		return err
	}
	return nil
}

// ActiveDocumentIDs returns the ids of every replica currently resident
// in the registry, for use by shutdown draining.
func (r *Registry) ActiveDocumentIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.replicas))
	for id := range r.replicas {
		out = append(out, id)
	}
	return out
}

// Drain performs a synchronous final store of every live replica. It is
// called during graceful shutdown, before sessions are told to close, so
// the persisted state reflects everything applied up to that point.
func (r *Registry) Drain(ctx context.Context) {
	for _, docID := range r.ActiveDocumentIDs() {
		if err := r.StoreNow(ctx, docID); err != nil {
			r.logger.Error().Err(err).Stringer("document_id", docID).Msg("final store during drain failed")
		}
	}
}

// snapshotSizeLimitHint only affects which metrics label a store reports
// under; the real inline/blob threshold decision lives in SnapshotStore.
const snapshotSizeLimitHint = 5 * 1024 * 1024

// Text returns the replica's current text, for the initial full-state
// frame sent to a newly joined client.
func (rep *Replica) Text() string {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return rep.state.Text()
}

// Clock returns a copy of the replica's version vector, used to compute
// a diff for a reconnecting client.
func (rep *Replica) Clock() map[string]uint64 {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return rep.state.Clock()
}

// Diff returns the update bytes the replica has accumulated since the
// given version vector.
func (rep *Replica) Diff(since map[string]uint64) ([]byte, error) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return crdt.Diff(rep.state, since)
}

// ClientCount reports how many clients currently hold this replica.
func (rep *Replica) ClientCount() int {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return len(rep.clients)
}
