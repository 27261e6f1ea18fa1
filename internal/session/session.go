package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/auth"
	"github.com/cuemby/crdtd/internal/permission"
	"github.com/cuemby/crdtd/internal/registry"
	"github.com/cuemby/crdtd/pkg/log"
	"github.com/cuemby/crdtd/pkg/metrics"
)

// Handler upgrades HTTP requests at /ws/document/{id} to WebSocket
// sessions: it authenticates the bearer token, authorizes the user
// against the document, acquires the replica, and runs the connection
// until it closes.
type Handler struct {
	upgrader websocket.Upgrader
	verifier *auth.Verifier
	oracle   *permission.Oracle
	registry *registry.Registry
	hub      *Hub
	logger   zerolog.Logger
}

// NewHandler builds a session Handler. allowedOrigins is forwarded into
// the upgrader's origin check; an empty slice allows any origin.
func NewHandler(verifier *auth.Verifier, oracle *permission.Oracle, reg *registry.Registry, allowedOrigins []string) *Handler {
	h := &Handler{
		verifier: verifier,
		oracle:   oracle,
		registry: reg,
		hub:      NewHub(),
		logger:   log.WithComponent("session"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker builds the upgrader's origin check. An empty list or the
// "*" wildcard (the documented dev-mode default) allows any origin;
// otherwise the Origin header must match the list exactly.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		_, ok := set[origin]
		return ok
	}
}

// authBudget caps how long the handshake may spend on token verification
// plus the permission check before the client is rejected.
const authBudget = 5 * time.Second

// ServeHTTP implements the WebSocket handshake for one document id,
// extracted by the caller's router and passed via docID. A request with
// no token at all is rejected with a plain 401 before the upgrade; a bad
// token or missing permission upgrades first and then closes with 4401
// or 4403, so WebSocket clients see a close code they can act on rather
// than an opaque failed upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, docID uuid.UUID) {
	ctx := r.Context()
	token := bearerToken(r)
	if token == "" {
		httpError(w, apperr.AuthInvalid)
		return
	}

	authCtx, cancel := context.WithTimeout(ctx, authBudget)
	identity, err := h.verifier.Verify(authCtx, token)
	if err != nil {
		cancel()
		h.rejectUpgrade(w, r, apperr.KindOf(err))
		return
	}

	level, err := h.oracle.Resolve(authCtx, docID, identity.UserID)
	cancel()
	if err != nil {
		h.rejectUpgrade(w, r, apperr.KindOf(err))
		return
	}
	if !permission.CanRead(level) {
		h.rejectUpgrade(w, r, apperr.Forbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	conn := newConn(ws)
	canWrite := permission.CanWrite(level)

	h.runSession(ctx, docID, clientID, identity.UserID, canWrite, conn)
}

// rejectUpgrade completes the upgrade and immediately closes the socket
// with the close code for kind. No replica is acquired on this path. If
// the upgrade itself fails the upgrader has already written an HTTP
// error, so there is nothing more to send.
func (h *Handler) rejectUpgrade(w http.ResponseWriter, r *http.Request, kind apperr.Kind) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(apperr.CloseCode(kind), string(kind))
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	ws.Close()
}

func (h *Handler) runSession(ctx context.Context, docID uuid.UUID, clientID, userID string, canWrite bool, conn *Conn) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	replica, err := h.registry.Acquire(ctx, docID, clientID)
	if err != nil {
		h.logger.Error().Err(err).Stringer("document_id", docID).Msg("acquire replica failed")
		// The write pump is not running yet, so close the socket directly.
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
		conn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.ws.Close()
		metrics.SessionsTotal.WithLabelValues("admission_failed").Inc()
		return
	}

	h.hub.Join(docID, clientID, conn)
	go conn.writePump()

	conn.send(Frame{Type: FrameInit, Text: replica.Text(), Clock: replica.Clock()})

	closeReason := h.readPump(ctx, docID, clientID, userID, canWrite, conn)

	h.hub.Leave(docID, clientID)
	h.registry.Release(ctx, docID, clientID)
	conn.Close()
	metrics.SessionsTotal.WithLabelValues(closeReason).Inc()
}

func (h *Handler) readPump(ctx context.Context, docID uuid.UUID, clientID, userID string, canWrite bool, conn *Conn) string {
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", clientID).Msg("session closed unexpectedly")
			}
			return "disconnect"
		}

		var in Frame
		if err := json.Unmarshal(raw, &in); err != nil {
			conn.send(Frame{Type: FrameError, Message: "malformed frame"})
			continue
		}

		switch in.Type {
		case FrameAwareness:
			if err := h.registry.SetAwareness(docID, clientID, in.Awareness); err != nil {
				h.logger.Error().Err(err).Stringer("document_id", docID).Msg("set awareness failed")
				continue
			}
			h.hub.Broadcast(docID, clientID, Frame{Type: FrameAwareness, ClientID: clientID, Awareness: in.Awareness})

		case FrameUpdate:
			if !canWrite {
				conn.send(Frame{Type: FrameError, Message: "read-only access"})
				continue
			}
			if err := h.registry.Apply(ctx, docID, in.Update); err != nil {
				kind := apperr.KindOf(err)
				conn.send(Frame{Type: FrameError, Message: string(kind)})
				// Transient here is a failed log append: the edit is not
				// durable, so the client is disconnected with 1011 and
				// resynchronizes on reconnect.
				if kind == apperr.Fatal || kind == apperr.Transient {
					conn.CloseWithCode(apperr.CloseCode(kind))
					return "fatal_error"
				}
				continue
			}
			h.hub.Broadcast(docID, clientID, Frame{Type: FrameUpdate, Update: in.Update})

		default:
			conn.send(Frame{Type: FrameError, Message: "unknown frame type"})
		}
	}
}

// CloseAllSessions closes every active WebSocket connection across every
// document with the given close code. Used during graceful shutdown,
// after the registry has been drained, to get every client a close 1001
// instead of leaving them to time out on their own.
func (h *Handler) CloseAllSessions(code int) {
	h.hub.CloseAll(code)
}

// ActiveSessionCount reports how many connections are still open across
// every document, used by shutdown to know when draining is complete.
func (h *Handler) ActiveSessionCount() int {
	return h.hub.Count()
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

func httpError(w http.ResponseWriter, kind apperr.Kind) {
	status := http.StatusInternalServerError
	switch kind {
	case apperr.AuthInvalid, apperr.AuthExpired:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.ValidationFailed:
		status = http.StatusBadRequest
	}
	http.Error(w, string(kind), status)
}
