package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/council"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil, "test", logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func join(t *testing.T, hub *Hub, sessionID string) *Client {
	t.Helper()
	c := NewClient(hub, nil, sessionID)
	hub.register <- c
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for _, existing := range hub.clients[sessionID] {
			if existing == c {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data := <-c.Send:
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return Frame{}
}

func TestHub_SendTargetsSession(t *testing.T) {
	hub := startHub(t)
	a := join(t, hub, "s1")
	b := join(t, hub, "s2")

	hub.SendSessionEvent("s1", council.Event{Type: council.EventTerminated, Reason: council.ReasonMaxTurns})

	f := receive(t, a)
	assert.Equal(t, "terminated", f.Type)
	assert.Equal(t, "s1", f.SessionID)
	assert.Len(t, b.Send, 0)
}

func TestHub_NotifyReachesEveryone(t *testing.T) {
	hub := startHub(t)
	a := join(t, hub, "s1")
	b := join(t, hub, "s2")

	hub.Notify("ingest_completed", map[string]interface{}{"job_id": "j1"})

	for _, c := range []*Client{a, b} {
		f := receive(t, c)
		assert.Equal(t, "ingest_completed", f.Type)
		assert.Empty(t, f.SessionID)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	c := join(t, hub, "s1")

	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.ClientCount("s1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)

	// Sending after the last client left is a no-op.
	hub.Send("s1", Frame{Type: "message"})
}

func TestClient_SendAfterCloseIsReported(t *testing.T) {
	hub := NewHub(nil, "test", logger.NewNopLogger())
	c := NewClient(hub, nil, "s1")

	require.NoError(t, c.trySend([]byte(`{}`)))
	c.close()
	c.close()

	assert.ErrorIs(t, c.trySend([]byte(`{}`)), errClientClosed)
	// The frame queued before close is still drained, then the channel ends.
	_, open := <-c.Send
	assert.True(t, open)
	_, open = <-c.Send
	assert.False(t, open)
}

func TestClient_FullBufferIsReported(t *testing.T) {
	hub := NewHub(nil, "test", logger.NewNopLogger())
	c := NewClient(hub, nil, "s1")
	for i := 0; i < cap(c.Send); i++ {
		require.NoError(t, c.trySend([]byte(`{}`)))
	}
	assert.ErrorIs(t, c.trySend([]byte(`{}`)), errBufferFull)
}

func TestHub_SendRacesUnregister(t *testing.T) {
	hub := startHub(t)
	c := join(t, hub, "s1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Send("s1", Frame{Type: "message"})
		}
	}()
	go func() {
		for range c.Send {
		}
	}()
	hub.remove(c)

	<-done
	require.Eventually(t, func() bool { return hub.ClientCount("s1") == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.trySend([]byte(`{}`)), errClientClosed)
}
