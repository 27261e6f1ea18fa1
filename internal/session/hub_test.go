package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	docID := uuid.New()

	sender := newConn(nil)
	other := newConn(nil)
	hub.Join(docID, "sender", sender)
	hub.Join(docID, "other", other)

	hub.Broadcast(docID, "sender", Frame{Type: FrameUpdate, Update: []byte("op")})

	select {
	case f := <-other.outbound:
		assert.Equal(t, FrameUpdate, f.Type)
	case <-time.After(time.Second):
		t.Fatal("expected other client to receive the frame")
	}

	select {
	case <-sender.outbound:
		t.Fatal("sender should not receive its own broadcast")
	default:
	}
}

func TestHubLeaveDropsEmptyDocumentEntry(t *testing.T) {
	hub := NewHub()
	docID := uuid.New()
	conn := newConn(nil)

	hub.Join(docID, "client-1", conn)
	hub.Leave(docID, "client-1")

	hub.mu.RLock()
	_, present := hub.conns[docID]
	hub.mu.RUnlock()
	require.False(t, present)
}

func TestHubCloseAllClosesEveryConnection(t *testing.T) {
	hub := NewHub()
	docA, docB := uuid.New(), uuid.New()
	connA := newConn(nil)
	connB := newConn(nil)
	hub.Join(docA, "client-1", connA)
	hub.Join(docB, "client-2", connB)

	assert.Equal(t, 2, hub.Count())

	hub.CloseAll(1001)

	for _, c := range []*Conn{connA, connB} {
		select {
		case <-c.closed:
		default:
			t.Fatal("expected connection to be closed")
		}
		assert.Equal(t, 1001, c.closeCode)
	}
}

func TestHubCountReflectsJoinsAndLeaves(t *testing.T) {
	hub := NewHub()
	docID := uuid.New()
	assert.Equal(t, 0, hub.Count())

	hub.Join(docID, "client-1", newConn(nil))
	assert.Equal(t, 1, hub.Count())

	hub.Leave(docID, "client-1")
	assert.Equal(t, 0, hub.Count())
}

func TestHubBroadcastDropsSlowClientWhenBufferFull(t *testing.T) {
	hub := NewHub()
	docID := uuid.New()
	conn := newConn(nil)
	hub.Join(docID, "client-1", conn)

	for i := 0; i < outboundBuffer+1; i++ {
		hub.Broadcast(docID, "", Frame{Type: FrameUpdate, Update: []byte("x")})
	}

	select {
	case <-conn.closed:
	default:
		t.Fatal("expected connection to be closed after outbound buffer overflow")
	}
}
