// Package ai generates the bot's replies with an eino chain over a chat model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/zhouzirui/mindfriend/backend/internal/config"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
)

var (
	// ErrEmptyReply is returned when the model answers with blank text.
	ErrEmptyReply = errors.New("ai: empty reply")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("ai: circuit breaker is open")
)

// Options configures a Service.
type Options struct {
	Persona persona.Persona
	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures uint32
	// BreakerTimeout is how long the breaker stays open. Default: 30s.
	BreakerTimeout time.Duration
}

// Service produces assistant replies for a persona.
type Service struct {
	chatModel model.BaseChatModel
	persona   persona.Persona
	system    string
	chain     compose.Runnable[map[string]any, *schema.Message]
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewService creates the Ark chat model from cfg and wraps it.
func NewService(ctx context.Context, cfg config.AIConfig, opts Options, logger zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, opts, logger)
}

// NewServiceWithModel builds the reply chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, opts Options, logger zerolog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("ai: chat model is required")
	}
	if opts.Persona.ID == "" {
		opts.Persona = persona.Seed()[0]
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	logger = logger.With().Str("component", "ai").Logger()
	maxFailures := opts.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reply-generator",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A caller giving up says nothing about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
	})

	p := opts.Persona
	return &Service{
		chatModel: chatModel,
		persona:   p,
		system:    NewPersonaPromptManager().BuildSystemPrompt(&p),
		chain:     runnable,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// Persona returns the persona replies are written as.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// ChatModel returns the underlying model so other classifiers can share it.
func (s *Service) ChatModel() model.BaseChatModel {
	return s.chatModel
}

// BreakerState reports "closed", "open" or "half-open".
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}

// Generate returns the assistant reply to text given the prior history.
func (s *Service) Generate(ctx context.Context, history []chat.Turn, text string) (string, error) {
	input := map[string]any{
		"system":  s.system,
		"history": buildHistoryMessages(history),
		"query":   text,
	}

	start := time.Now()
	result, err := s.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := s.chain.Invoke(ctx, input)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyReply
		}
		return resp.Content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply := strings.TrimSpace(result.(string))
	s.logger.Debug().
		Int("history", len(history)).
		Int("length", len(reply)).
		Dur("elapsed", time.Since(start)).
		Msg("generated reply")
	return reply, nil
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}
