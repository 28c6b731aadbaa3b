// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

// Factory builds an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises the store contract against a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("TurnRoundTrip", func(t *testing.T) { testTurnRoundTrip(t, newStore(t)) })
	t.Run("TurnOrderingAndRange", func(t *testing.T) { testTurnOrderingAndRange(t, newStore(t)) })
	t.Run("TurnsArePerUser", func(t *testing.T) { testTurnsArePerUser(t, newStore(t)) })
	t.Run("RecentTurns", func(t *testing.T) { testRecentTurns(t, newStore(t)) })
	t.Run("InvalidTurn", func(t *testing.T) { testInvalidTurn(t, newStore(t)) })
	t.Run("MoodRoundTrip", func(t *testing.T) { testMoodRoundTrip(t, newStore(t)) })
	t.Run("InvalidMood", func(t *testing.T) { testInvalidMood(t, newStore(t)) })
	t.Run("SaveUserIsIdempotent", func(t *testing.T) { testSaveUser(t, newStore(t)) })
	t.Run("EarlyStop", func(t *testing.T) { testEarlyStop(t, newStore(t)) })
}

// CollectTurns drains a turn query.
func CollectTurns(t *testing.T, s store.TurnLog, userID chat.UserID, r store.TimeRange) []chat.Turn {
	t.Helper()
	var out []chat.Turn
	for turn, err := range s.QueryTurns(context.Background(), userID, r) {
		require.NoError(t, err)
		out = append(out, turn)
	}
	return out
}

// CollectMoods drains a mood query.
func CollectMoods(t *testing.T, s store.MoodLog, userID chat.UserID, r store.TimeRange) []mood.Entry {
	t.Helper()
	var out []mood.Entry
	for entry, err := range s.QueryMoods(context.Background(), userID, r) {
		require.NoError(t, err)
		out = append(out, entry)
	}
	return out
}

func appendTurn(t *testing.T, s store.Store, userID chat.UserID, role chat.Role, text string, at time.Time) string {
	t.Helper()
	id, err := s.AppendTurn(context.Background(), chat.Turn{
		UserID:    userID,
		Role:      role,
		Text:      text,
		CreatedAt: at,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testTurnRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := base.Add(1234567 * time.Nanosecond)
	want := chat.Turn{
		UserID:     "U1",
		ExchangeID: "ex-1",
		Role:       chat.RoleUser,
		Text:       "Hello",
		CreatedAt:  at,
	}

	id, err := s.AppendTurn(ctx, want)
	require.NoError(t, err)

	got := CollectTurns(t, s, "U1", store.AllTime())
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, want.UserID, got[0].UserID)
	assert.Equal(t, want.ExchangeID, got[0].ExchangeID)
	assert.Equal(t, want.Role, got[0].Role)
	assert.Equal(t, want.Text, got[0].Text)
	assert.True(t, want.CreatedAt.Equal(got[0].CreatedAt), "created at: got %v want %v", got[0].CreatedAt, want.CreatedAt)
	assert.Equal(t, time.UTC, got[0].CreatedAt.Location())
}

func testTurnOrderingAndRange(t *testing.T, s store.Store) {
	// Appended out of order on purpose.
	appendTurn(t, s, "U1", chat.RoleUser, "third", base.Add(2*time.Hour))
	appendTurn(t, s, "U1", chat.RoleUser, "first", base)
	appendTurn(t, s, "U1", chat.RoleAssistant, "second", base.Add(time.Hour))

	all := CollectTurns(t, s, "U1", store.AllTime())
	require.Len(t, all, 3)
	assert.Equal(t, []string{"first", "second", "third"}, texts(all))

	ranged := CollectTurns(t, s, "U1", store.TimeRange{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)})
	assert.Equal(t, []string{"second"}, texts(ranged))

	open := CollectTurns(t, s, "U1", store.TimeRange{From: base.Add(time.Hour)})
	assert.Equal(t, []string{"second", "third"}, texts(open))
}

func testTurnsArePerUser(t *testing.T, s store.Store) {
	appendTurn(t, s, "U1", chat.RoleUser, "mine", base)
	appendTurn(t, s, "U2", chat.RoleUser, "theirs", base)

	assert.Equal(t, []string{"mine"}, texts(CollectTurns(t, s, "U1", store.AllTime())))
	assert.Equal(t, []string{"theirs"}, texts(CollectTurns(t, s, "U2", store.AllTime())))
	assert.Empty(t, CollectTurns(t, s, "U3", store.AllTime()))
}

func testRecentTurns(t *testing.T, s store.Store) {
	for i, text := range []string{"a", "b", "c", "d"} {
		appendTurn(t, s, "U1", chat.RoleUser, text, base.Add(time.Duration(i)*time.Minute))
	}

	recent, err := s.RecentTurns(context.Background(), "U1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, texts(recent))

	all, err := s.RecentTurns(context.Background(), "U1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts(all))

	none, err := s.RecentTurns(context.Background(), "U1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testInvalidTurn(t *testing.T, s store.Store) {
	ctx := context.Background()
	cases := map[string]chat.Turn{
		"missing user": {Role: chat.RoleUser, Text: "hi"},
		"bad role":     {UserID: "U1", Role: "system", Text: "hi"},
		"empty text":   {UserID: "U1", Role: chat.RoleUser, Text: "  "},
	}
	for name, turn := range cases {
		_, err := s.AppendTurn(ctx, turn)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, store.ErrInvalidRecord, name)
		assert.Equal(t, store.SerializationFailure, store.KindOf(err), name)
	}
	assert.Empty(t, CollectTurns(t, s, "U1", store.AllTime()))
}

func testMoodRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	score := 7.5

	_, err := s.AppendMood(ctx, mood.Entry{UserID: "U1", Label: "  Very   Happy ", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.AppendMood(ctx, mood.Entry{UserID: "U1", Score: &score, Source: mood.SourceInferred, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	got := CollectMoods(t, s, "U1", store.AllTime())
	require.Len(t, got, 2)
	assert.Equal(t, "very happy", got[0].Label)
	assert.Nil(t, got[0].Score)
	assert.Equal(t, mood.SourceCommand, got[0].Source)
	require.NotNil(t, got[1].Score)
	assert.InDelta(t, 7.5, *got[1].Score, 1e-9)
	assert.Equal(t, mood.SourceInferred, got[1].Source)

	recent, err := s.RecentMoods(ctx, "U1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, got[1].ID, recent[0].ID)

	later := CollectMoods(t, s, "U1", store.TimeRange{From: base.Add(time.Second)})
	assert.Len(t, later, 1)
}

func testInvalidMood(t *testing.T, s store.Store) {
	ctx := context.Background()
	tooHigh := 11.0

	_, err := s.AppendMood(ctx, mood.Entry{UserID: "U1"})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	_, err = s.AppendMood(ctx, mood.Entry{UserID: "U1", Score: &tooHigh})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	_, err = s.AppendMood(ctx, mood.Entry{Label: "happy"})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func testSaveUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, chat.User{ID: "U1", Username: "first"}))
	require.NoError(t, s.SaveUser(ctx, chat.User{ID: "U1", Username: "second"}))
	assert.Error(t, s.SaveUser(ctx, chat.User{}))
}

func testEarlyStop(t *testing.T, s store.Store) {
	for i := range 5 {
		appendTurn(t, s, "U1", chat.RoleUser, "msg", base.Add(time.Duration(i)*time.Second))
	}

	seen := 0
	for _, err := range s.QueryTurns(context.Background(), "U1", store.AllTime()) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)

	// The store must still be usable after an abandoned iteration.
	appendTurn(t, s, "U1", chat.RoleUser, "after", base.Add(time.Minute))
	assert.Len(t, CollectTurns(t, s, "U1", store.AllTime()), 6)
}

func texts(turns []chat.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.Text)
	}
	return out
}
