package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/service/ai/aitest"
)

func newService(t *testing.T, m *aitest.Model, opts Options) *Service {
	t.Helper()
	svc, err := NewServiceWithModel(context.Background(), m, opts, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestGenerateSendsHistoryInOrder(t *testing.T) {
	m := aitest.Text("  I'm glad to hear that!  ")
	svc := newService(t, m, Options{})

	history := []chat.Turn{
		{Role: chat.RoleUser, Text: "Hello"},
		{Role: chat.RoleAssistant, Text: "Hi there"},
	}
	reply, err := svc.Generate(context.Background(), history, "I passed my exam")
	require.NoError(t, err)
	assert.Equal(t, "I'm glad to hear that!", reply)

	prompt := m.LastCall()
	require.Len(t, prompt, 4)
	assert.Equal(t, schema.System, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "MindFriend")
	assert.Equal(t, schema.User, prompt[1].Role)
	assert.Equal(t, "Hello", prompt[1].Content)
	assert.Equal(t, schema.Assistant, prompt[2].Role)
	assert.Equal(t, "Hi there", prompt[2].Content)
	assert.Equal(t, "I passed my exam", prompt[3].Content)
}

func TestGenerateRejectsEmptyReply(t *testing.T) {
	svc := newService(t, aitest.Text("   "), Options{})

	_, err := svc.Generate(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestGenerateHonoursDeadline(t *testing.T) {
	svc := newService(t, aitest.Blocking(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Generate(ctx, nil, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("upstream down")
	m := aitest.Failing(boom)
	svc := newService(t, m, Options{MaxFailures: 2, BreakerTimeout: time.Minute})

	for range 2 {
		_, err := svc.Generate(context.Background(), nil, "hello")
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", svc.BreakerState())

	_, err := svc.Generate(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, m.Calls(), 2)
}

func TestCancellationDoesNotTripBreaker(t *testing.T) {
	svc := newService(t, aitest.Blocking(), Options{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Generate(ctx, nil, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", svc.BreakerState())
}

func TestCustomPersonaPrompt(t *testing.T) {
	m := aitest.Text("ok")
	svc := newService(t, m, Options{Persona: persona.Persona{
		ID:    "coach",
		Name:  "Coach",
		Title: "a running coach",
		Tone:  "upbeat",
		Rules: []string{"Keep it short"},
	}})

	_, err := svc.Generate(context.Background(), nil, "hi")
	require.NoError(t, err)

	system := m.LastCall()[0].Content
	assert.Contains(t, system, "You are Coach, a running coach.")
	assert.Contains(t, system, "Keep it short")
	assert.Equal(t, "coach", svc.Persona().ID)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewServiceWithModel(context.Background(), nil, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
