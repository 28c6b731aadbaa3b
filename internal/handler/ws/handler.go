// Package ws serves chat over a WebSocket: one JSON frame in, one reply out.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindfriend/backend/internal/handler/httperr"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
)

const (
	idleTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	maxFrameSize = 64 << 10
)

// Frame types.
const (
	TypeConnected = "connected"
	TypeMessage   = "message"
	TypeReply     = "reply"
	TypeError     = "error"
)

// Responder answers a user message the same way the bot does.
type Responder interface {
	Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error)
}

// Handler upgrades connections and relays frames to the responder.
type Handler struct {
	responder Responder
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	// readTimeout is how long the client may stay silent between replies.
	readTimeout time.Duration
}

// New creates the WebSocket handler.
func New(responder Responder, logger zerolog.Logger) *Handler {
	return &Handler{
		responder:   responder,
		logger:      logger.With().Str("component", "ws").Logger(),
		readTimeout: idleTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.handleWebSocket)
}

// InboundFrame is what clients send.
type InboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutboundFrame is what the server sends.
type OutboundFrame struct {
	Type      string      `json:"type"`
	UserID    chat.UserID `json:"userId,omitempty"`
	Text      string      `json:"text,omitempty"`
	Error     string      `json:"error,omitempty"`
	Status    int         `json:"status,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(strings.TrimSpace(chi.URLParam(r, "userID")))
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("user_id", string(userID)).Str("conn_id", uuid.NewString()).Logger()
	logger.Info().Msg("connection opened")
	defer func() { logger.Info().Msg("connection closed") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, conn)

	if !h.write(conn, logger, OutboundFrame{Type: TypeConnected, UserID: userID}) {
		return
	}

	for {
		var in InboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		if !h.write(conn, logger, h.respond(ctx, logger, userID, in)) {
			return
		}
		// The idle window starts once the reply is out, not when the
		// message arrived.
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) respond(ctx context.Context, logger zerolog.Logger, userID chat.UserID, in InboundFrame) OutboundFrame {
	if in.Type != TypeMessage {
		return OutboundFrame{Type: TypeError, UserID: userID, Error: "unsupported frame type", Status: http.StatusBadRequest}
	}

	out, err := h.responder.Handle(ctx, chat.InboundMessage{
		UserID:    userID,
		Text:      in.Text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("message handling failed")
		status, message := httperr.Describe(err)
		return OutboundFrame{Type: TypeError, UserID: userID, Text: out.Text, Error: message, Status: status}
	}
	return OutboundFrame{Type: TypeReply, UserID: userID, Text: out.Text}
}

func (h *Handler) write(conn *websocket.Conn, logger zerolog.Logger, frame OutboundFrame) bool {
	frame.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		logger.Warn().Err(err).Str("type", frame.Type).Msg("write failed")
		return false
	}
	return true
}

// pingLoop uses WriteControl, which may run alongside the reader's writes.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
