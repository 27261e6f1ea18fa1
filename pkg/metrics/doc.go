// Package metrics exposes Prometheus counters, gauges and histograms for the
// registry, session runtime and compaction worker, plus a Timer helper for
// observing operation durations.
package metrics
