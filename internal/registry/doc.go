// Package registry holds the process-wide set of live document replicas:
// one in-memory CRDT state per open document, hydrated from the log and
// snapshot stores on first access and evicted after a period of no
// attached clients. It is the process's single source of truth for
// "which documents are currently active," the way the hub in a
// multi-document collaboration server tracks one Document per open id.
package registry
