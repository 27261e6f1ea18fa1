package session

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/crdtd/pkg/log"
	"github.com/cuemby/crdtd/pkg/metrics"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	outboundBuffer = 64
)

// FrameType names the kinds of frames exchanged over the socket.
type FrameType string

const (
	FrameInit      FrameType = "init"
	FrameUpdate    FrameType = "update"
	FrameAwareness FrameType = "awareness"
	FrameError     FrameType = "error"
)

// Frame is the wire message exchanged between client and server. Text
// carries the full document contents on FrameInit; Update carries one
// CRDT update's encoded bytes on FrameUpdate; Awareness carries opaque,
// never-persisted per-client presence bytes (cursor, selection, etc.) on
// FrameAwareness, with ClientID identifying whose awareness changed.
type Frame struct {
	Type      FrameType         `json:"type"`
	Text      string            `json:"text,omitempty"`
	Clock     map[string]uint64 `json:"clock,omitempty"`
	Update    []byte            `json:"update,omitempty"`
	Awareness []byte            `json:"awareness,omitempty"`
	ClientID  string            `json:"clientId,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Conn wraps one client's WebSocket connection with a bounded outbound
// queue, so a slow client falls behind its own buffer instead of
// blocking the document's broadcast fan-out.
type Conn struct {
	ws        *websocket.Conn
	outbound  chan Frame
	closed    chan struct{}
	closeCode int
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:        ws,
		outbound:  make(chan Frame, outboundBuffer),
		closed:    make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// CloseWithCode closes the connection, sending the given WebSocket close
// code (see apperr.CloseCode) instead of the default normal closure.
func (c *Conn) CloseWithCode(code int) {
	c.closeCode = code
	c.Close()
}

// send enqueues a frame for delivery, dropping the connection if its
// outbound buffer is full (spec's backpressure limit).
func (c *Conn) send(f Frame) {
	select {
	case c.outbound <- f:
	default:
		metrics.ClientsDroppedTotal.Inc()
		log.Warn("dropping client: outbound buffer full")
		c.Close()
	}
}

// Close closes the connection's done channel exactly once.
func (c *Conn) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// writePump drains the outbound queue to the socket and sends periodic
// pings, until the connection is closed.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-c.closed:
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""), time.Now().Add(writeWait))
			return
		case frame, ok := <-c.outbound:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
