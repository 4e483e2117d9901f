package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs pumps a connection until the peer leaves. initial frames are
// queued before any hub traffic so the client starts from a known state.
func ServeWs(hub *Hub, conn *websocket.Conn, sessionID string, onMessage func(c *Client, data []byte), initial ...[]byte) {
	client := NewClient(hub, conn, sessionID)
	if onMessage != nil {
		client.OnMessage = func(data []byte) { onMessage(client, data) }
	}
	for _, data := range initial {
		client.Send <- data
	}
	client.Hub.add(client)

	go client.writePump()
	client.readPump()
}
