package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/service/conversation"
	"github.com/zhouzirui/mindfriend/backend/internal/service/memory"
	"github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/internal/store/storetest"
)

var t0 = time.Date(2025, 8, 3, 9, 30, 0, 0, time.UTC)

type generatorFunc func(ctx context.Context, history []chat.Turn, text string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, history []chat.Turn, text string) (string, error) {
	return f(ctx, history, text)
}

type fixture struct {
	store *store.MemoryStore
	svc   *Service
}

func newFixture(t *testing.T, gen generatorFunc, limiter *Limiter) fixture {
	t.Helper()
	s := store.NewMemoryStore()
	mem, err := memory.New(memory.DefaultConfig(), s, zerolog.Nop())
	require.NoError(t, err)

	clock := t0
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	conv := conversation.NewService(s, mem, gen, nil, conversation.Config{Now: now}, zerolog.Nop())
	svc := NewService(conv, s, stats.New(s), persona.Seed()[0], limiter, zerolog.Nop())
	return fixture{store: s, svc: svc}
}

func echo() generatorFunc {
	return func(_ context.Context, _ []chat.Turn, text string) (string, error) {
		return "echo: " + text, nil
	}
}

func send(t *testing.T, svc *Service, text string) (string, error) {
	t.Helper()
	out, err := svc.Handle(context.Background(), chat.InboundMessage{UserID: "U1", Text: text})
	assert.Equal(t, chat.UserID("U1"), out.UserID)
	return out.Text, err
}

func TestStartSavesUserAndGreets(t *testing.T) {
	f := newFixture(t, echo(), nil)

	out, err := f.svc.Handle(context.Background(), chat.InboundMessage{
		UserID:  "U1",
		Text:    "/start",
		Profile: &chat.User{Username: "sam", FirstName: "Sam"},
	})
	require.NoError(t, err)
	assert.Equal(t, persona.Seed()[0].OpeningLine, out.Text)

	user, ok := f.store.User("U1")
	require.True(t, ok)
	assert.Equal(t, "sam", user.Username)
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "/help@MindFriendBot")
	require.NoError(t, err)
	for _, c := range Commands {
		assert.Contains(t, text, c.Name)
	}
}

func TestFreeTextGoesToConversation(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: Hello", text)
	assert.Len(t, storetest.CollectTurns(t, f.store, "U1", store.AllTime()), 2)
}

func TestGenerationFailureApologizes(t *testing.T) {
	f := newFixture(t, func(context.Context, []chat.Turn, string) (string, error) {
		return "", errors.New("llm down")
	}, nil)

	text, err := send(t, f.svc, "Hello")
	assert.Equal(t, ApologyText, text)
	var genErr *conversation.GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestEmptyMessage(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "   ")
	assert.Equal(t, EmptyText, text)
	assert.ErrorIs(t, err, conversation.ErrEmptyMessage)
}

func TestHistoryShowsLastFiveExchanges(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "/history")
	require.NoError(t, err)
	assert.Equal(t, NoHistoryText, text)

	for _, msg := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		_, err := send(t, f.svc, msg)
		require.NoError(t, err)
	}

	text, err = send(t, f.svc, "/history")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Here are your last 5 conversations:"))
	assert.NotContains(t, text, "You: m1\n")
	assert.Contains(t, text, "1. You: m2\n  MindFriend: echo: m2")
	assert.Contains(t, text, "5. You: m6\n  MindFriend: echo: m6")
}

func TestStats(t *testing.T) {
	f := newFixture(t, echo(), nil)
	for _, msg := range []string{"a", "b", "c"} {
		_, err := send(t, f.svc, msg)
		require.NoError(t, err)
	}

	text, err := send(t, f.svc, "/stats")
	require.NoError(t, err)
	assert.Equal(t, "📊 Your Stats:\n\nTotal messages: 3\nDays active: 1\nAverage messages per day: 3.00", text)
}

func TestMoodCommand(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "/mood Happy 7")
	require.NoError(t, err)
	assert.Equal(t, "Mood 'happy' (7/10) recorded. Thank you for sharing!", text)

	text, err = send(t, f.svc, "/mood 4")
	require.NoError(t, err)
	assert.Equal(t, "Mood score 4/10 recorded. Thank you for sharing!", text)

	text, err = send(t, f.svc, "/mood a bit  tired")
	require.NoError(t, err)
	assert.Equal(t, "Mood 'a bit tired' recorded. Thank you for sharing!", text)

	text, err = send(t, f.svc, "/mood")
	assert.Equal(t, MoodUsageText, text)
	assert.ErrorIs(t, err, ErrInvalidArgs)

	text, err = send(t, f.svc, "/mood sad 12")
	assert.Equal(t, MoodUsageText, text)
	assert.ErrorIs(t, err, ErrInvalidArgs)

	assert.Len(t, storetest.CollectMoods(t, f.store, "U1", store.AllTime()), 3)
}

func TestMoodStats(t *testing.T) {
	f := newFixture(t, echo(), nil)

	text, err := send(t, f.svc, "/moodstats")
	require.NoError(t, err)
	assert.Equal(t, NoMoodsText, text)

	for _, cmd := range []string{"/mood happy 8", "/mood sad 4", "/mood happy"} {
		_, err := send(t, f.svc, cmd)
		require.NoError(t, err)
	}

	text, err = send(t, f.svc, "/moodstats")
	require.NoError(t, err)
	assert.Contains(t, text, "Recent moods:\n- 'happy' (8/10) at 2025-08-03 09:30:")
	assert.Contains(t, text, "Mood frequency:\n- happy: 2\n- sad: 1")
	assert.Contains(t, text, "Average score: 6.0/10 (±2.8)")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, echo(), nil)
	text, err := send(t, f.svc, "/dance")
	require.NoError(t, err)
	assert.Equal(t, UnknownText, text)
}

func TestRateLimit(t *testing.T) {
	limiter, err := NewLimiter(1, 2, 16)
	require.NoError(t, err)
	f := newFixture(t, echo(), limiter)

	for range 2 {
		_, err := send(t, f.svc, "/help")
		require.NoError(t, err)
	}
	text, err := send(t, f.svc, "/help")
	assert.Equal(t, RateLimitedText, text)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other users have their own bucket.
	out, err := f.svc.Handle(context.Background(), chat.InboundMessage{UserID: "U2", Text: "/help"})
	require.NoError(t, err)
	assert.NotEqual(t, RateLimitedText, out.Text)
}

func TestMissingUser(t *testing.T) {
	f := newFixture(t, echo(), nil)
	out, err := f.svc.Handle(context.Background(), chat.InboundMessage{Text: "hi"})
	assert.ErrorIs(t, err, conversation.ErrUserRequired)
	assert.Equal(t, ApologyText, out.Text)
}

func TestParseMood(t *testing.T) {
	label, score, err := ParseMood([]string{"stressed", "3/10"})
	require.NoError(t, err)
	assert.Equal(t, "stressed", label)
	require.NotNil(t, score)
	assert.Equal(t, 3.0, *score)

	label, score, err = ParseMood([]string{"over", "the", "moon"})
	require.NoError(t, err)
	assert.Equal(t, "over the moon", label)
	assert.Nil(t, score)

	_, _, err = ParseMood([]string{"0"})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestPairExchanges(t *testing.T) {
	turns := []chat.Turn{
		{ExchangeID: "x0", Role: chat.RoleAssistant, Text: "orphan reply"},
		{ExchangeID: "x1", Role: chat.RoleUser, Text: "q1"},
		{ExchangeID: "x1", Role: chat.RoleAssistant, Text: "a1"},
		{ExchangeID: "x2", Role: chat.RoleUser, Text: "q2 failed"},
		{ExchangeID: "x3", Role: chat.RoleUser, Text: "q3"},
		{ExchangeID: "x3", Role: chat.RoleAssistant, Text: "a3"},
	}

	got := PairExchanges(turns)
	require.Len(t, got, 3)
	assert.Equal(t, "q1", got[0].User.Text)
	assert.Equal(t, "a1", got[0].Reply.Text)
	assert.Nil(t, got[1].Reply)
	assert.Equal(t, "(no reply)", got[1].replyText())
	assert.Equal(t, "a3", got[2].Reply.Text)
}
