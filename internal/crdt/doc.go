// Package crdt implements a pure CRDT merge algebra: an RGA (replicated
// growable array) text structure whose inserts and deletes commute and
// are idempotent. The package does no I/O; it only holds State in memory
// and applies Ops to it. Wire encoding of Ops is plain JSON rather than a
// bespoke binary codec.
package crdt
