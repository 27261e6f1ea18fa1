// Package httpapi assembles the process's HTTP surfaces: the REST and
// control-plane mux (documents, attachments, health/ready/metrics) behind
// a per-IP rate limiter on the main port, and the WebSocket session mux
// on the realtime port.
package httpapi
