// Package auth verifies bearer tokens presented at the WebSocket
// handshake, either locally (HMAC-signed JWT) or by delegating to the
// identity service's /api/v1/users/me endpoint, and caches successful
// verifications for a short TTL so a burst of reconnects from the same
// client doesn't repeatedly hit the network.
package auth
