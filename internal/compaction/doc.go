// Package compaction runs the background worker that keeps each
// document's snapshot fresh relative to its update log: on a fixed
// interval, and whenever the registry signals a document crossed the
// update-count threshold, it hydrates, re-snapshots and truncates the
// log for documents whose tail has grown past the configured threshold.
package compaction
