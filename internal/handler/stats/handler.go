// Package stats serves activity and mood statistics and accepts mood reports.
package stats

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/zhouzirui/mindfriend/backend/internal/handler/httperr"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	statsService "github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

const maxRecent = 100

// Aggregator computes the statistics served here.
type Aggregator interface {
	Activity(ctx context.Context, userID chat.UserID, r store.TimeRange) (statsService.Activity, error)
	MoodSummary(ctx context.Context, userID chat.UserID, r store.TimeRange, recent int) (statsService.MoodSummary, error)
}

// MoodRecorder logs an explicit mood report.
type MoodRecorder interface {
	RecordMood(ctx context.Context, userID chat.UserID, label string, score *float64) (mood.Entry, error)
}

// Handler serves the stats and mood endpoints.
type Handler struct {
	stats Aggregator
	moods MoodRecorder
}

// New creates the stats handler.
func New(stats Aggregator, moods MoodRecorder) *Handler {
	return &Handler{stats: stats, moods: moods}
}

// RegisterRoutes mounts the stats routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userID}/stats", h.handleActivity)
	r.Post("/users/{userID}/moods", h.handleRecordMood)
	r.Get("/users/{userID}/moods/stats", h.handleMoodStats)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(chi.URLParam(r, "userID"))
	tr, err := parseRange(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	activity, err := h.stats.Activity(r.Context(), userID, tr)
	if err != nil {
		httperr.Respond(w, err, "")
		return
	}
	utils.RespondJSON(w, http.StatusOK, activity)
}

func (h *Handler) handleMoodStats(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(chi.URLParam(r, "userID"))
	tr, err := parseRange(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	recent := command.RecentMoods
	if raw := r.URL.Query().Get("recent"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 || n > maxRecent {
			utils.RespondError(w, http.StatusBadRequest, "recent must be between 0 and 100")
			return
		}
		recent = n
	}

	summary, err := h.stats.MoodSummary(r.Context(), userID, tr, recent)
	if err != nil {
		httperr.Respond(w, err, "")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

type moodRequest struct {
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

func (h *Handler) handleRecordMood(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(chi.URLParam(r, "userID"))

	var payload moodRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.moods.RecordMood(r.Context(), userID, payload.Label, payload.Score)
	if err != nil {
		httperr.Respond(w, err, "")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, entry)
}

// parseRange reads the optional from/to query parameters. Any format cast
// understands is accepted; RFC 3339 is the documented one.
func parseRange(r *http.Request) (store.TimeRange, error) {
	var tr store.TimeRange
	q := r.URL.Query()

	if raw := q.Get("from"); raw != "" {
		t, err := cast.ToTimeE(raw)
		if err != nil {
			return tr, errors.New("from must be an RFC 3339 timestamp")
		}
		tr.From = t.UTC()
	}
	if raw := q.Get("to"); raw != "" {
		t, err := cast.ToTimeE(raw)
		if err != nil {
			return tr, errors.New("to must be an RFC 3339 timestamp")
		}
		tr.To = t.UTC()
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && !tr.From.Before(tr.To) {
		return tr, errors.New("from must be before to")
	}
	return tr, nil
}
