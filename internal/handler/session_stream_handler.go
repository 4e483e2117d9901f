package handler

import (
	"context"
	"encoding/json"

	"vita-be/internal/pkg/logger"
	"vita-be/internal/pkg/serverutils"
	"vita-be/internal/service"
	internalWS "vita-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"

	commandResume = "resume"
	commandCancel = "cancel"
)

// clientCommand is what a peer may send over an open session stream.
type clientCommand struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SessionStreamHandler streams a debugging session's council events and
// accepts the student's replies on the same socket.
type SessionStreamHandler struct {
	sessions  service.ISessionService
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewSessionStreamHandler(sessions service.ISessionService, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *SessionStreamHandler {
	return &SessionStreamHandler{
		sessions:  sessions,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// ServeWs upgrades the request and replays the session's current state
// before live events.
func (h *SessionStreamHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	id := c.Params("id")
	sess, err := h.sessions.Get(id)
	if err != nil {
		return err
	}

	return websocket.New(func(conn *websocket.Conn) {
		snapshot, err := json.Marshal(internalWS.Frame{Type: FrameSnapshot, SessionID: id, Data: sess.Snapshot()})
		if err != nil {
			h.logger.Error("SessionStream", "Failed to encode snapshot", map[string]interface{}{"error": err.Error()})
			return
		}

		h.logger.Info("SessionStream", "Starting WebSocket session", map[string]interface{}{"session_id": id})
		internalWS.ServeWs(h.hub, conn, id, func(client *internalWS.Client, data []byte) {
			h.handleCommand(client, sess, data)
		}, snapshot)
		h.logger.Info("SessionStream", "WebSocket session ended", map[string]interface{}{"session_id": id})
	})(c)
}

func (h *SessionStreamHandler) handleCommand(client *internalWS.Client, sess *service.Handle, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.reply(client, "malformed command")
		return
	}

	switch cmd.Type {
	case commandResume:
		if err := sess.ResumeInBackground(context.Background(), cmd.Text); err != nil {
			h.reply(client, err.Error())
		}
	case commandCancel:
		sess.Cancel()
	default:
		h.reply(client, "unknown command "+cmd.Type)
	}
}

func (h *SessionStreamHandler) reply(client *internalWS.Client, message string) {
	data, _ := json.Marshal(internalWS.Frame{Type: FrameError, SessionID: client.SessionID, Data: message})
	client.Reply(data)
}

// RegisterRoutes registers the session stream route.
func (h *SessionStreamHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/session/v1/:id/ws", serverutils.JwtMiddleware(h.jwtSecret), h.ServeWs)
}
