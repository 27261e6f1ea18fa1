package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ReplicasActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtd_replicas_active",
			Help: "Number of documents with a live in-memory replica",
		},
	)

	ReplicaAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtd_replica_admissions_total",
			Help: "Total replica admissions by outcome",
		},
		[]string{"outcome"}, // hit, hydrated, failed
	)

	ReplicaHydrateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtd_replica_hydrate_duration_seconds",
			Help:    "Time taken to hydrate a replica from snapshot plus log tail",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicaEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crdtd_replica_evictions_total",
			Help: "Total number of replicas evicted after idle timeout",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtd_sessions_active",
			Help: "Number of currently connected WebSocket sessions",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtd_sessions_total",
			Help: "Total sessions started, by close reason once closed",
		},
		[]string{"close_reason"},
	)

	SessionUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crdtd_session_updates_total",
			Help: "Total CRDT update frames merged across all sessions",
		},
	)

	ClientsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crdtd_clients_dropped_total",
			Help: "Total clients dropped for exceeding the outbound backpressure limit",
		},
	)

	// Auth metrics
	AuthVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crdtd_auth_verify_duration_seconds",
			Help:    "Time taken to verify a bearer token",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"}, // local, remote, cache
	)

	AuthCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtd_auth_cache_size",
			Help: "Number of entries currently held in the auth verifier cache",
		},
	)

	// Storage metrics
	LogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtd_log_append_duration_seconds",
			Help:    "Time taken to append one update to the log store",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotSaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crdtd_snapshot_save_duration_seconds",
			Help:    "Time taken to save a snapshot, by storage form",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"storage"}, // inline, blob
	)

	BlobOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtd_blob_ops_total",
			Help: "Total blob store operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Compaction metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtd_compaction_duration_seconds",
			Help:    "Time taken for one compaction worker tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtd_compactions_total",
			Help: "Total document compactions by outcome",
		},
		[]string{"outcome"}, // success, failed
	)

	CompactionCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtd_compaction_candidates",
			Help: "Number of documents selected as compaction candidates on the last tick",
		},
	)
)

func init() {
	prometheus.MustRegister(ReplicasActive)
	prometheus.MustRegister(ReplicaAdmissionsTotal)
	prometheus.MustRegister(ReplicaHydrateDuration)
	prometheus.MustRegister(ReplicaEvictionsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionUpdatesTotal)
	prometheus.MustRegister(ClientsDroppedTotal)
	prometheus.MustRegister(AuthVerifyDuration)
	prometheus.MustRegister(AuthCacheSize)
	prometheus.MustRegister(LogAppendDuration)
	prometheus.MustRegister(SnapshotSaveDuration)
	prometheus.MustRegister(BlobOpsTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionsTotal)
	prometheus.MustRegister(CompactionCandidates)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
