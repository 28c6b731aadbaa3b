// Package store defines the append-only log of chat turns and mood entries.
package store

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
)

// TimeRange is the half-open interval [From, To). A zero bound is unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// AllTime is the unbounded range.
func AllTime() TimeRange {
	return TimeRange{}
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// TurnLog appends and reads chat turns.
type TurnLog interface {
	// AppendTurn durably writes a turn and returns its record id.
	AppendTurn(ctx context.Context, turn chat.Turn) (string, error)
	// QueryTurns streams a user's turns inside r, ordered by time ascending.
	QueryTurns(ctx context.Context, userID chat.UserID, r TimeRange) iter.Seq2[chat.Turn, error]
	// RecentTurns returns the newest limit turns, oldest first.
	RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error)
}

// MoodLog appends and reads mood entries.
type MoodLog interface {
	AppendMood(ctx context.Context, entry mood.Entry) (string, error)
	QueryMoods(ctx context.Context, userID chat.UserID, r TimeRange) iter.Seq2[mood.Entry, error]
	RecentMoods(ctx context.Context, userID chat.UserID, limit int) ([]mood.Entry, error)
}

// Store is the full log store used by the application.
type Store interface {
	TurnLog
	MoodLog
	// SaveUser records a user profile; an existing profile is left untouched.
	SaveUser(ctx context.Context, user chat.User) error
	Close() error
}

// NewID returns a record id that sorts by t.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// PrepareTurn validates a turn and fills in its id and timestamp defaults.
func PrepareTurn(turn chat.Turn, now time.Time) (chat.Turn, error) {
	if turn.UserID == "" {
		return chat.Turn{}, invalid("append turn", "user id is required")
	}
	if !turn.Role.Valid() {
		return chat.Turn{}, invalid("append turn", "unknown role "+string(turn.Role))
	}
	if strings.TrimSpace(turn.Text) == "" {
		return chat.Turn{}, invalid("append turn", "text is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	if turn.ID == "" {
		turn.ID = NewID(turn.CreatedAt)
	}
	return turn, nil
}

// PrepareMood validates a mood entry and fills in its id and timestamp defaults.
func PrepareMood(entry mood.Entry, now time.Time) (mood.Entry, error) {
	if entry.UserID == "" {
		return mood.Entry{}, invalid("append mood", "user id is required")
	}
	entry.Label = mood.NormalizeLabel(entry.Label)
	if entry.Label == "" && entry.Score == nil {
		return mood.Entry{}, invalid("append mood", "label or score is required")
	}
	if entry.Score != nil && !mood.ValidScore(*entry.Score) {
		return mood.Entry{}, invalid("append mood", "score out of range")
	}
	if entry.Source == "" {
		entry.Source = mood.SourceCommand
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.ID == "" {
		entry.ID = NewID(entry.CreatedAt)
	}
	if entry.Score != nil {
		score := *entry.Score
		entry.Score = &score
	}
	return entry, nil
}
