package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/session"
	"github.com/cuemby/crdtd/pkg/metrics"
)

// NewAPIMux assembles the REST and control-plane surface served on the
// main HTTP port: document/attachment endpoints behind the per-IP rate
// limiter, plus health, readiness and Prometheus metrics. The probe and
// metrics endpoints stay outside the limiter so orchestrator scrapes
// never compete with client traffic for budget.
func NewAPIMux(docs *DocumentsAPI, limiter *RateLimiter) *http.ServeMux {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/documents/{id}/snapshot", docs.GetSnapshotInfo)
	api.HandleFunc("POST /api/attachments/initiate", docs.InitiateAttachmentUpload)
	api.HandleFunc("GET /api/attachments/{id}", docs.GetAttachment)

	mux := http.NewServeMux()
	mux.Handle("/api/", limiter.Middleware(api))

	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// NewSessionMux assembles the WebSocket handshake surface served on the
// realtime port.
func NewSessionMux(sessions *session.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/document/{id}", func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, apperr.ValidationFailed, "invalid document id")
			return
		}
		sessions.ServeHTTP(w, r, docID)
	})
	return mux
}

// NewServer wraps mux in an http.Server with conservative timeouts.
// WriteTimeout stays unset because the realtime listener's connections
// outlive any fixed deadline once hijacked for WebSocket; per-frame
// write deadlines are enforced by the session runtime instead.
func NewServer(addr string, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
