// Package conversation runs one chat turn at a time per user: log the
// user's message, ask the reply generator, log the reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/mindfriend/backend/internal/analysis/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	moodservice "github.com/zhouzirui/mindfriend/backend/internal/service/mood"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrEmptyMessage = errors.New("message text is required")
	// ErrEmptyReply is wrapped in a GenerationError when the generator
	// returns blank text.
	ErrEmptyReply = errors.New("generator returned an empty reply")
)

// State is where a user's conversation stands.
type State int

const (
	Idle State = iota
	AwaitingReply
)

func (s State) String() string {
	if s == AwaitingReply {
		return "awaiting_reply"
	}
	return "idle"
}

// GenerationError reports that no reply could be produced for a turn. The
// user's turn is logged; no assistant turn is.
type GenerationError struct {
	UserID chat.UserID
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("conversation: generate reply for %s: %v", e.UserID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the generator ran out of time.
func (e *GenerationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Generator produces the assistant reply for text given prior turns.
type Generator interface {
	Generate(ctx context.Context, history []chat.Turn, text string) (string, error)
}

// Memory is the per-user session window.
type Memory interface {
	Append(ctx context.Context, turn chat.Turn) error
	Snapshot(ctx context.Context, userID chat.UserID) ([]chat.Turn, error)
	// Latest is the time of the user's newest turn, even one no longer in
	// the snapshot.
	Latest(ctx context.Context, userID chat.UserID) (time.Time, error)
}

// Log is the durable record of turns and moods.
type Log interface {
	AppendTurn(ctx context.Context, turn chat.Turn) (string, error)
	AppendMood(ctx context.Context, entry mood.Entry) (string, error)
}

// MoodInferrer guesses a mood from a user message.
type MoodInferrer interface {
	Infer(ctx context.Context, history []chat.Turn, text string) moodservice.Inference
}

// Config tunes the orchestrator.
type Config struct {
	// ReplyTimeout bounds one generator call. Default: 60s.
	ReplyTimeout time.Duration
	// MoodTimeout bounds one mood inference. Default: ReplyTimeout.
	MoodTimeout time.Duration
	// MinMoodConfidence is the least confidence an inferred mood needs to
	// be logged.
	MinMoodConfidence float64
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type slot struct {
	sem   chan struct{}
	refs  int
	state State
}

// Service is the conversation orchestrator. Turns for the same user run one
// at a time in arrival order of slot acquisition; different users run in
// parallel.
type Service struct {
	log       Log
	memory    Memory
	generator Generator
	moods     MoodInferrer
	cfg       Config
	logger    zerolog.Logger

	mu    sync.Mutex
	slots map[chat.UserID]*slot
}

// NewService wires the orchestrator. moods may be nil to disable inference.
func NewService(log Log, memory Memory, generator Generator, moods MoodInferrer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if cfg.MoodTimeout <= 0 {
		cfg.MoodTimeout = cfg.ReplyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		log:       log,
		memory:    memory,
		generator: generator,
		moods:     moods,
		cfg:       cfg,
		logger:    logger.With().Str("component", "conversation").Logger(),
		slots:     make(map[chat.UserID]*slot),
	}
}

// State returns the user's current state.
func (s *Service) State(userID chat.UserID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[userID]; ok {
		return sl.state
	}
	return Idle
}

// Handle runs one turn: it logs the user's message, generates and logs the
// reply, and returns it. Store failures are returned as *store.Error,
// generator failures as *GenerationError.
func (s *Service) Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	text := strings.TrimSpace(msg.Text)
	if msg.UserID == "" {
		return chat.OutboundMessage{}, ErrUserRequired
	}
	if text == "" {
		return chat.OutboundMessage{}, ErrEmptyMessage
	}

	sl, err := s.acquire(ctx, msg.UserID)
	if err != nil {
		return chat.OutboundMessage{}, err
	}
	defer s.release(msg.UserID, sl)
	s.setState(sl, AwaitingReply)

	logger := s.logger.With().Str("user_id", string(msg.UserID)).Logger()

	history, err := s.memory.Snapshot(ctx, msg.UserID)
	if err != nil {
		return chat.OutboundMessage{}, err
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = s.cfg.Now()
	}
	last, err := s.memory.Latest(ctx, msg.UserID)
	if err != nil {
		return chat.OutboundMessage{}, err
	}
	if !last.IsZero() {
		at = after(last, at)
	}

	userTurn, err := s.appendTurn(ctx, chat.Turn{
		UserID:     msg.UserID,
		ExchangeID: uuid.NewString(),
		Role:       chat.RoleUser,
		Text:       text,
		CreatedAt:  at,
	})
	if err != nil {
		return chat.OutboundMessage{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	reply, err := s.generator.Generate(genCtx, history, text)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		genErr := &GenerationError{UserID: msg.UserID, Err: err}
		logger.Warn().Err(err).Bool("timeout", genErr.Timeout()).Msg("reply generation failed")
		return chat.OutboundMessage{}, genErr
	}
	reply = strings.TrimSpace(reply)

	if _, err := s.appendTurn(ctx, chat.Turn{
		UserID:     msg.UserID,
		ExchangeID: userTurn.ExchangeID,
		Role:       chat.RoleAssistant,
		Text:       reply,
		CreatedAt:  after(userTurn.CreatedAt, s.cfg.Now()),
	}); err != nil {
		return chat.OutboundMessage{}, err
	}

	s.inferMood(ctx, logger, history, userTurn)

	logger.Debug().Str("exchange_id", userTurn.ExchangeID).Msg("turn complete")
	return chat.OutboundMessage{UserID: msg.UserID, Text: reply}, nil
}

// RecordMood logs an explicit mood report. It is serialized with the user's
// chat turns.
func (s *Service) RecordMood(ctx context.Context, userID chat.UserID, label string, score *float64) (mood.Entry, error) {
	if userID == "" {
		return mood.Entry{}, ErrUserRequired
	}

	sl, err := s.acquire(ctx, userID)
	if err != nil {
		return mood.Entry{}, err
	}
	defer s.release(userID, sl)

	entry := mood.Entry{
		UserID:    userID,
		Label:     mood.NormalizeLabel(label),
		Score:     score,
		Source:    mood.SourceCommand,
		CreatedAt: s.cfg.Now().UTC(),
	}
	id, err := s.log.AppendMood(ctx, entry)
	if err != nil {
		return mood.Entry{}, err
	}
	entry.ID = id
	return entry, nil
}

// appendTurn writes the turn to the log, then to session memory. A memory
// failure is logged only: the turn is durable and the session will be
// rebuilt from the log.
func (s *Service) appendTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	id, err := s.log.AppendTurn(ctx, turn)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", string(turn.UserID)).Str("role", string(turn.Role)).Msg("append turn failed")
		return chat.Turn{}, err
	}
	turn.ID = id
	turn.CreatedAt = turn.CreatedAt.UTC()

	if err := s.memory.Append(ctx, turn); err != nil {
		s.logger.Warn().Err(err).Str("user_id", string(turn.UserID)).Msg("session memory append failed")
	}
	return turn, nil
}

func (s *Service) inferMood(ctx context.Context, logger zerolog.Logger, history []chat.Turn, userTurn chat.Turn) {
	if s.moods == nil {
		return
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.cfg.MoodTimeout)
	inf := s.moods.Infer(inferCtx, history, userTurn.Text)
	cancel()
	if inf.Label == "" || inf.Label == analysis.Neutral || inf.Confidence < s.cfg.MinMoodConfidence {
		return
	}

	entry := mood.Entry{
		UserID:    userTurn.UserID,
		Label:     string(inf.Label),
		Source:    mood.SourceInferred,
		CreatedAt: userTurn.CreatedAt,
	}
	if mood.ValidScore(inf.Score) {
		score := inf.Score
		entry.Score = &score
	}
	if _, err := s.log.AppendMood(ctx, entry); err != nil {
		logger.Warn().Err(err).Msg("append inferred mood failed")
		return
	}
	logger.Debug().Str("mood", entry.Label).Float64("confidence", inf.Confidence).Str("method", inf.Method).Msg("mood inferred")
}

func (s *Service) acquire(ctx context.Context, userID chat.UserID) (*slot, error) {
	s.mu.Lock()
	sl, ok := s.slots[userID]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[userID] = sl
	}
	sl.refs++
	s.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
		return sl, nil
	case <-ctx.Done():
		s.unref(userID, sl)
		return nil, ctx.Err()
	}
}

func (s *Service) release(userID chat.UserID, sl *slot) {
	s.setState(sl, Idle)
	<-sl.sem
	s.unref(userID, sl)
}

func (s *Service) unref(userID chat.UserID, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, userID)
	}
}

func (s *Service) setState(sl *slot, state State) {
	s.mu.Lock()
	sl.state = state
	s.mu.Unlock()
}

// after returns t, or the instant just past prev when t does not come later.
func after(prev, t time.Time) time.Time {
	if t.After(prev) {
		return t
	}
	return prev.Add(time.Nanosecond)
}
