package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/handler"
	"github.com/zhouzirui/mindfriend/backend/internal/middleware"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	"github.com/zhouzirui/mindfriend/backend/internal/service/conversation"
	"github.com/zhouzirui/mindfriend/backend/internal/service/memory"
	"github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

type generatorFunc func(ctx context.Context, history []chat.Turn, text string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, history []chat.Turn, text string) (string, error) {
	return f(ctx, history, text)
}

func reply(text string) generatorFunc {
	return func(context.Context, []chat.Turn, string) (string, error) { return text, nil }
}

func failing(err error) generatorFunc {
	return func(context.Context, []chat.Turn, string) (string, error) { return "", err }
}

func newServer(t *testing.T, gen conversation.Generator, limiter *middleware.RateLimiter) http.Handler {
	t.Helper()
	s := store.NewMemoryStore()
	mem, err := memory.New(memory.DefaultConfig(), s, zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	clock := time.Date(2025, 8, 3, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	p := persona.Seed()[0]
	conv := conversation.NewService(s, mem, gen, nil, conversation.Config{Now: now}, zerolog.Nop())
	agg := stats.New(s)
	cmd := command.NewService(conv, s, agg, p, nil, zerolog.Nop())

	return handler.NewRouter(handler.Services{
		Persona:   p,
		Responder: cmd,
		History:   s,
		Stats:     agg,
		Moods:     conv,
	}, limiter, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	h := newServer(t, reply("ok"), nil)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestGetPersona(t *testing.T) {
	h := newServer(t, reply("ok"), nil)
	rec := do(t, h, http.MethodGet, "/api/persona", "")
	require.Equal(t, http.StatusOK, rec.Code)

	p := decode[persona.Persona](t, rec)
	assert.Equal(t, "MindFriend", p.Name)
	assert.NotEmpty(t, p.OpeningLine)
}

func TestPostMessageReplies(t *testing.T) {
	h := newServer(t, reply("Hi there"), nil)

	rec := do(t, h, http.MethodPost, "/api/users/U1/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "U1", body["userId"])
	assert.Equal(t, "Hi there", body["reply"])
}

func TestPostMessageRunsCommands(t *testing.T) {
	h := newServer(t, reply("unused"), nil)

	rec := do(t, h, http.MethodPost, "/api/users/U1/messages", `{"text":"/start"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, persona.Seed()[0].OpeningLine, decode[map[string]string](t, rec)["reply"])
}

func TestPostMessageStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		gen    generatorFunc
		body   string
		status int
		reply  string
	}{
		{"generation failure", failing(errors.New("llm down")), `{"text":"Hello"}`, http.StatusBadGateway, command.ApologyText},
		{"generation timeout", failing(context.DeadlineExceeded), `{"text":"Hello"}`, http.StatusGatewayTimeout, command.ApologyText},
		{"empty text", reply("x"), `{"text":"   "}`, http.StatusBadRequest, command.EmptyText},
		{"bad mood score", reply("x"), `{"text":"/mood happy 11"}`, http.StatusBadRequest, command.MoodUsageText},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServer(t, tc.gen, nil)
			rec := do(t, h, http.MethodPost, "/api/users/U1/messages", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())

			body := decode[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, tc.reply, body["reply"])
		})
	}
}

func TestPostMessageRejectsBadJSON(t *testing.T) {
	h := newServer(t, reply("x"), nil)
	rec := do(t, h, http.MethodPost, "/api/users/U1/messages", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/U1/messages", `{"txt":"typo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryPairsExchanges(t *testing.T) {
	h := newServer(t, generatorFunc(func(_ context.Context, _ []chat.Turn, text string) (string, error) {
		return "re: " + text, nil
	}), nil)

	for i := 1; i <= 3; i++ {
		rec := do(t, h, http.MethodPost, "/api/users/U1/messages", fmt.Sprintf(`{"text":"m%d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/users/U1/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Exchanges []command.Exchange `json:"exchanges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Exchanges, 2)
	assert.Equal(t, "m2", body.Exchanges[0].User.Text)
	require.NotNil(t, body.Exchanges[1].Reply)
	assert.Equal(t, "re: m3", body.Exchanges[1].Reply.Text)

	rec = do(t, h, http.MethodGet, "/api/users/U2/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"U2","exchanges":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/users/U1/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoodEndpoints(t *testing.T) {
	h := newServer(t, reply("x"), nil)

	rec := do(t, h, http.MethodPost, "/api/users/U1/moods", `{"label":"  Happy ","score":7}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry struct {
		ID     string   `json:"id"`
		Label  string   `json:"label"`
		Score  *float64 `json:"score"`
		Source string   `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "happy", entry.Label)
	require.NotNil(t, entry.Score)
	assert.InDelta(t, 7, *entry.Score, 1e-9)
	assert.Equal(t, "command", entry.Source)

	rec = do(t, h, http.MethodPost, "/api/users/U1/moods", `{"label":"sad"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/U1/moods", `{"label":"ok","score":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/users/U1/moods", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/users/U1/moods/stats?recent=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[stats.MoodSummary](t, rec)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, map[string]int{"happy": 1, "sad": 1}, summary.Frequency)
	require.Len(t, summary.Recent, 1)
	assert.Equal(t, "sad", summary.Recent[0].Label)
	assert.Equal(t, 1, summary.Scored)
	assert.InDelta(t, 7, summary.Mean, 1e-9)
}

func TestActivityEndpoint(t *testing.T) {
	h := newServer(t, reply("ok"), nil)
	for range 2 {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/users/U1/messages", `{"text":"hi"}`).Code)
	}

	rec := do(t, h, http.MethodGet, "/api/users/U1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	activity := decode[stats.Activity](t, rec)
	assert.Equal(t, 2, activity.TotalMessages)
	assert.Equal(t, 1, activity.DaysActive)
	assert.InDelta(t, 2, activity.AveragePerDay, 1e-9)

	rec = do(t, h, http.MethodGet, "/api/users/U1/stats?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/users/U1/stats?from=2025-02-01T00:00:00Z&to=2025-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedRequests(t *testing.T) {
	h := newServer(t, reply("ok"), middleware.NewRateLimiter(0.001, 1))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/persona", "").Code)
	rec := do(t, h, http.MethodGet, "/api/persona", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decode[map[string]string](t, rec)["error"])

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newServer(t, reply("ok"), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/users/U1/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, []string{"*", "http://localhost:5173"}, rec.Header().Get("Access-Control-Allow-Origin"))
}
