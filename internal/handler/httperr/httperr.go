// Package httperr maps service errors onto HTTP status codes.
package httperr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	"github.com/zhouzirui/mindfriend/backend/internal/service/conversation"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

// Describe returns the status code and client-facing message for err.
func Describe(err error) (int, string) {
	var genErr *conversation.GenerationError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, command.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, command.ErrInvalidArgs),
		errors.Is(err, conversation.ErrUserRequired),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &genErr):
		if genErr.Timeout() {
			return http.StatusGatewayTimeout, "reply generation timed out"
		}
		return http.StatusBadGateway, "reply generation failed"
	case store.KindOf(err) != 0:
		return http.StatusInternalServerError, "storage failure"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Respond writes err with its mapped status. reply, when set, is the text the
// user would have seen in chat.
func Respond(w http.ResponseWriter, err error, reply string) {
	status, message := Describe(err)
	utils.RespondJSON(w, status, utils.ErrorBody{Error: message, Reply: reply})
}
