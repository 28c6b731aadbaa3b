package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
)

type echoResponder struct {
	err error
}

func (e echoResponder) Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	if e.err != nil {
		return chat.OutboundMessage{UserID: msg.UserID, Text: command.RateLimitedText}, e.err
	}
	return chat.OutboundMessage{UserID: msg.UserID, Text: "echo: " + msg.Text}, nil
}

func dial(t *testing.T, responder Responder, userID string) *websocket.Conn {
	t.Helper()
	return dialHandler(t, New(responder, zerolog.Nop()), userID)
}

func dialHandler(t *testing.T, h *Handler, userID string) *websocket.Conn {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	var hello OutboundFrame
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, TypeConnected, hello.Type)
	require.Equal(t, chat.UserID(userID), hello.UserID)
	return conn
}

func TestWebSocketReplies(t *testing.T) {
	conn := dial(t, echoResponder{}, "U1")

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: TypeMessage, Text: "Hello"}))
	var out OutboundFrame
	require.NoError(t, conn.ReadJSON(&out))

	assert.Equal(t, TypeReply, out.Type)
	assert.Equal(t, "echo: Hello", out.Text)
	assert.NotZero(t, out.Timestamp)

	// The connection stays usable for the next message.
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: TypeMessage, Text: "again"}))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "echo: again", out.Text)
}

type slowResponder struct {
	delay time.Duration
}

func (s slowResponder) Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return chat.OutboundMessage{}, ctx.Err()
	}
	return chat.OutboundMessage{UserID: msg.UserID, Text: "slow: " + msg.Text}, nil
}

func TestWebSocketSlowReplyKeepsConnection(t *testing.T) {
	h := New(slowResponder{delay: 300 * time.Millisecond}, zerolog.Nop())
	h.readTimeout = 200 * time.Millisecond
	conn := dialHandler(t, h, "U1")

	// Each reply takes longer than the idle window.
	for _, text := range []string{"one", "two"} {
		require.NoError(t, conn.WriteJSON(InboundFrame{Type: TypeMessage, Text: text}))
		var out OutboundFrame
		require.NoError(t, conn.ReadJSON(&out))
		assert.Equal(t, TypeReply, out.Type)
		assert.Equal(t, "slow: "+text, out.Text)
	}
}

func TestWebSocketReportsErrors(t *testing.T) {
	conn := dial(t, echoResponder{err: command.ErrRateLimited}, "U1")

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: TypeMessage, Text: "Hello"}))
	var out OutboundFrame
	require.NoError(t, conn.ReadJSON(&out))

	assert.Equal(t, TypeError, out.Type)
	assert.Equal(t, http.StatusTooManyRequests, out.Status)
	assert.Equal(t, command.RateLimitedText, out.Text)
}

func TestWebSocketRejectsUnknownFrame(t *testing.T) {
	conn := dial(t, echoResponder{}, "U1")

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: "audio"}))
	var out OutboundFrame
	require.NoError(t, conn.ReadJSON(&out))

	assert.Equal(t, TypeError, out.Type)
	assert.Equal(t, http.StatusBadRequest, out.Status)
}
