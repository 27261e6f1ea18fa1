package session

import (
	"sync"

	"github.com/google/uuid"
)

// Hub fans out update frames to every other connected client editing the
// same document. It is separate from the registry's client-count
// bookkeeping: the registry tracks *that* a replica has attached
// clients, the hub tracks the actual connections to broadcast to.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]*Conn
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[uuid.UUID]map[string]*Conn)}
}

// Join registers a connection under a document and client id.
func (h *Hub) Join(docID uuid.UUID, clientID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[docID]
	if !ok {
		m = make(map[string]*Conn)
		h.conns[docID] = m
	}
	m[clientID] = c
}

// Leave removes a connection. If it was the last one for the document,
// the document's entry is dropped entirely.
func (h *Hub) Leave(docID uuid.UUID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[docID]
	if !ok {
		return
	}
	delete(m, clientID)
	if len(m) == 0 {
		delete(h.conns, docID)
	}
}

// Broadcast delivers frame to every connection on docID except
// excludeClientID.
func (h *Hub) Broadcast(docID uuid.UUID, excludeClientID string, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for clientID, c := range h.conns[docID] {
		if clientID == excludeClientID {
			continue
		}
		c.send(frame)
	}
}

// CloseAll closes every connection across every document with the given
// WebSocket close code, used to send a going-away close during graceful
// shutdown.
func (h *Hub) CloseAll(code int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.conns {
		for _, c := range m {
			c.CloseWithCode(code)
		}
	}
}

// Count reports how many connections are open across every document.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.conns {
		n += len(m)
	}
	return n
}
