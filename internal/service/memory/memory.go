// Package memory keeps a bounded window of each user's recent turns in
// process memory, rebuilt from the log store on demand.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
)

// ErrUserRequired is returned for turns without a user id.
var ErrUserRequired = errors.New("memory: user id is required")

// Config bounds every session.
type Config struct {
	// MaxTurns is the most turns a session keeps. Default: 10.
	MaxTurns int
	// MaxTokens is the estimated token budget per session; 0 disables it.
	MaxTokens int
	// MaxSessions is how many users are held before the least recently
	// used one is dropped. Default: 1024.
	MaxSessions int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxTurns: 10, MaxSessions: 1024}
}

// Source loads the newest turns of a user, oldest first.
type Source interface {
	RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error)
}

type session struct {
	mu    sync.Mutex
	turns []chat.Turn
	// last is the newest turn time seen, kept even when the turn itself
	// has been trimmed out of turns.
	last time.Time
}

func (s *session) observe(t time.Time) {
	if t.After(s.last) {
		s.last = t
	}
}

// Memory holds one bounded session per user. It is safe for concurrent use;
// callers serialize appends for the same user.
type Memory struct {
	cfg      Config
	source   Source
	sessions *lru.Cache[chat.UserID, *session]
	group    singleflight.Group
	logger   zerolog.Logger
}

// New creates a Memory that rebuilds absent sessions from source. A nil
// source starts every session empty.
func New(cfg Config, source Source, logger zerolog.Logger) (*Memory, error) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.MaxTokens < 0 {
		cfg.MaxTokens = 0
	}

	sessions, err := lru.New[chat.UserID, *session](cfg.MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("memory: session cache: %w", err)
	}

	return &Memory{
		cfg:      cfg,
		source:   source,
		sessions: sessions,
		logger:   logger.With().Str("component", "memory").Logger(),
	}, nil
}

// Config returns the effective bounds.
func (m *Memory) Config() Config {
	return m.cfg
}

// Append adds a turn that is already durable in the log store. A turn whose
// id is already held is ignored.
func (m *Memory) Append(ctx context.Context, turn chat.Turn) error {
	if turn.UserID == "" {
		return ErrUserRequired
	}

	s, err := m.session(ctx, turn.UserID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observe(turn.CreatedAt)
	if turn.ID != "" && slices.ContainsFunc(s.turns, func(t chat.Turn) bool { return t.ID == turn.ID }) {
		return nil
	}
	s.turns = m.enforce(append(s.turns, turn))
	return nil
}

// Snapshot returns a copy of the user's session, oldest first.
func (m *Memory) Snapshot(ctx context.Context, userID chat.UserID) ([]chat.Turn, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	s, err := m.session(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns), nil
}

// Latest returns the time of the user's newest known turn, including turns
// the bounds have already evicted. It is zero for a user with no turns.
func (m *Memory) Latest(ctx context.Context, userID chat.UserID) (time.Time, error) {
	if userID == "" {
		return time.Time{}, ErrUserRequired
	}

	s, err := m.session(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// Forget drops the user's session; the next access rebuilds it.
func (m *Memory) Forget(userID chat.UserID) {
	m.sessions.Remove(userID)
}

// Len returns the number of sessions held.
func (m *Memory) Len() int {
	return m.sessions.Len()
}

func (m *Memory) session(ctx context.Context, userID chat.UserID) (*session, error) {
	if s, ok := m.sessions.Get(userID); ok {
		return s, nil
	}

	v, err, _ := m.group.Do(string(userID), func() (any, error) {
		if s, ok := m.sessions.Get(userID); ok {
			return s, nil
		}

		s := &session{}
		if m.source != nil {
			loaded, err := m.source.RecentTurns(ctx, userID, m.cfg.MaxTurns)
			if err != nil {
				return nil, err
			}
			for _, t := range loaded {
				s.observe(t.CreatedAt)
			}
			s.turns = m.enforce(slices.Clone(loaded))
		}

		if prev, ok, _ := m.sessions.PeekOrAdd(userID, s); ok {
			return prev, nil
		}
		m.logger.Debug().Str("user_id", string(userID)).Int("turns", len(s.turns)).Msg("session rebuilt")
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: rebuild session %s: %w", userID, err)
	}
	return v.(*session), nil
}

// enforce drops the oldest turns until both bounds hold. The token budget is
// strict and may leave the session empty.
func (m *Memory) enforce(turns []chat.Turn) []chat.Turn {
	if excess := len(turns) - m.cfg.MaxTurns; excess > 0 {
		turns = turns[excess:]
	}

	if m.cfg.MaxTokens > 0 {
		total := 0
		for _, t := range turns {
			total += EstimateTokens(t.Text)
		}
		for len(turns) > 0 && total > m.cfg.MaxTokens {
			total -= EstimateTokens(turns[0].Text)
			turns = turns[1:]
		}
	}

	// Reslicing from the front keeps the old backing array alive; compact
	// once it is mostly dead space.
	if cap(turns) > 2*m.cfg.MaxTurns+4 {
		turns = slices.Clone(turns)
	}
	return turns
}

// tokensPerTurn approximates role and framing overhead per message.
const tokensPerTurn = 4

// EstimateTokens approximates the prompt tokens a turn costs: four
// characters per token plus framing.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text)/4 + tokensPerTurn
}
