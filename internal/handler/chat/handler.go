package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/zhouzirui/mindfriend/backend/internal/handler/httperr"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

const maxHistory = 50

// Responder answers a user message the same way the bot does.
type Responder interface {
	Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error)
}

// History reads a user's most recent turns.
type History interface {
	RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error)
}

// Handler serves the chat endpoints.
type Handler struct {
	responder Responder
	history   History
	now       func() time.Time
}

// New creates the chat handler.
func New(responder Responder, history History) *Handler {
	return &Handler{
		responder: responder,
		history:   history,
		now:       time.Now,
	}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userID}/messages", h.handleMessage)
	r.Get("/users/{userID}/history", h.handleHistory)
}

type messageRequest struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type messageResponse struct {
	UserID chat.UserID `json:"userId"`
	Reply  string      `json:"reply"`
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(strings.TrimSpace(chi.URLParam(r, "userID")))

	var payload messageRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := chat.InboundMessage{
		UserID:    userID,
		Text:      payload.Text,
		Timestamp: h.now().UTC(),
		Profile: &chat.User{
			ID:        userID,
			Username:  payload.Username,
			FirstName: payload.FirstName,
			LastName:  payload.LastName,
		},
	}

	out, err := h.responder.Handle(r.Context(), msg)
	if err != nil {
		httperr.Respond(w, err, out.Text)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messageResponse{UserID: userID, Reply: out.Text})
}

type historyResponse struct {
	UserID    chat.UserID        `json:"userId"`
	Exchanges []command.Exchange `json:"exchanges"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(chi.URLParam(r, "userID"))

	limit := command.HistoryExchanges
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 || n > maxHistory {
			utils.RespondError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	turns, err := h.history.RecentTurns(r.Context(), userID, 2*limit)
	if err != nil {
		httperr.Respond(w, err, "")
		return
	}

	exchanges := command.PairExchanges(turns)
	if len(exchanges) > limit {
		exchanges = exchanges[len(exchanges)-limit:]
	}
	if exchanges == nil {
		exchanges = []command.Exchange{}
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{UserID: userID, Exchanges: exchanges})
}
