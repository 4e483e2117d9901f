package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/council"

	"github.com/redis/go-redis/v9"
)

// clusterChannel carries frames between instances so a client connected to
// one instance sees a session driven by another.
const clusterChannel = "vita_session_events"

const broadcastTarget = "*"

// Frame is what clients receive.
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type clusterMessage struct {
	Origin  string          `json:"origin"`
	Target  string          `json:"target"`
	Message json.RawMessage `json:"message"`
}

type Hub struct {
	// Session id -> connected clients (several tabs may follow one session).
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	mu sync.RWMutex

	// Optional; nil keeps delivery local.
	rdb *redis.Client

	// instanceID filters out this instance's own cluster messages.
	instanceID string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, instanceID string, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceID: instanceID,
		logger:     log,
	}
}

// Run owns client registration until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[client.SessionID]
			for i, c := range clients {
				if c == client {
					h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
					client.close()
					break
				}
			}
			if len(h.clients[client.SessionID]) == 0 {
				delete(h.clients, client.SessionID)
			}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"session_id": client.SessionID})
		}
	}
}

// Send delivers a frame to every client following sessionID, here and on
// other instances.
func (h *Hub) Send(sessionID string, frame Frame) {
	frame.SessionID = sessionID
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode frame", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliverLocal(sessionID, data)
	h.publishCluster(sessionID, data)
}

// Broadcast delivers a frame to every connected client.
func (h *Hub) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode frame", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliverLocal(broadcastTarget, data)
	h.publishCluster(broadcastTarget, data)
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) deliverLocal(target string, data []byte) {
	h.mu.RLock()
	var clients []*Client
	if target == broadcastTarget {
		for _, cs := range h.clients {
			clients = append(clients, cs...)
		}
	} else {
		clients = append(clients, h.clients[target]...)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		// A client that left after the lookup reports errClientClosed and is skipped.
		if err := client.trySend(data); errors.Is(err, errBufferFull) {
			h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{"session_id": client.SessionID})
			go h.remove(client)
		}
	}
}

func (h *Hub) publishCluster(target string, data []byte) {
	if h.rdb == nil {
		return
	}
	payload, _ := json.Marshal(clusterMessage{Origin: h.instanceID, Target: target, Message: data})
	if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
		h.logger.Warn("Hub", "Failed to publish to cluster", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(payload.Target, payload.Message)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.clients {
		for _, c := range clients {
			c.close()
		}
		delete(h.clients, id)
	}
}

// SendSessionEvent streams one council event to the session's followers.
func (h *Hub) SendSessionEvent(sessionID string, ev council.Event) {
	h.Send(sessionID, Frame{Type: string(ev.Type), Data: ev})
}

// Notify broadcasts a system notice such as a finished ingestion.
func (h *Hub) Notify(kind string, payload map[string]interface{}) {
	h.Broadcast(Frame{Type: kind, Data: payload})
}
