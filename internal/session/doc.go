// Package session runs the per-connection WebSocket lifecycle: handshake
// authentication and authorization, replica admission, the initial
// full-state frame, and the inbound/outbound pumps that relay CRDT
// updates between the client and its replica.
package session
