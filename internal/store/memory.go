package store

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
)

// MemoryStore keeps the log in process memory. Records are held sorted by
// (CreatedAt, ID) per user.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[chat.UserID]chat.User
	turns map[chat.UserID][]chat.Turn
	moods map[chat.UserID][]mood.Entry
	now   func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[chat.UserID]chat.User),
		turns: make(map[chat.UserID][]chat.Turn),
		moods: make(map[chat.UserID][]mood.Entry),
		now:   time.Now,
	}
}

// SaveUser records a profile unless one exists already.
func (s *MemoryStore) SaveUser(_ context.Context, user chat.User) error {
	if user.ID == "" {
		return invalid("save user", "user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return nil
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.ID] = user
	return nil
}

// User returns a saved profile.
func (s *MemoryStore) User(id chat.UserID) (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return user, ok
}

// AppendTurn stores a turn.
func (s *MemoryStore) AppendTurn(ctx context.Context, turn chat.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", IOError("append turn", err)
	}
	turn, err := PrepareTurn(turn, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.turns[turn.UserID]
	idx, _ := slices.BinarySearchFunc(list, turn, compareTurns)
	s.turns[turn.UserID] = slices.Insert(list, idx, turn)
	return turn.ID, nil
}

// AppendMood stores a mood entry.
func (s *MemoryStore) AppendMood(ctx context.Context, entry mood.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", IOError("append mood", err)
	}
	entry, err := PrepareMood(entry, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.moods[entry.UserID]
	idx, _ := slices.BinarySearchFunc(list, entry, compareMoods)
	s.moods[entry.UserID] = slices.Insert(list, idx, entry)
	return entry.ID, nil
}

// QueryTurns streams a copy of the user's turns inside r.
func (s *MemoryStore) QueryTurns(ctx context.Context, userID chat.UserID, r TimeRange) iter.Seq2[chat.Turn, error] {
	s.mu.RLock()
	snapshot := slices.Clone(s.turns[userID])
	s.mu.RUnlock()

	return func(yield func(chat.Turn, error) bool) {
		for _, turn := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(chat.Turn{}, IOError("query turns", err))
				return
			}
			if !r.Contains(turn.CreatedAt) {
				continue
			}
			if !yield(turn, nil) {
				return
			}
		}
	}
}

// QueryMoods streams a copy of the user's mood entries inside r.
func (s *MemoryStore) QueryMoods(ctx context.Context, userID chat.UserID, r TimeRange) iter.Seq2[mood.Entry, error] {
	s.mu.RLock()
	snapshot := cloneMoods(s.moods[userID])
	s.mu.RUnlock()

	return func(yield func(mood.Entry, error) bool) {
		for _, entry := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(mood.Entry{}, IOError("query moods", err))
				return
			}
			if !r.Contains(entry.CreatedAt) {
				continue
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// RecentTurns returns the newest limit turns, oldest first.
func (s *MemoryStore) RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, IOError("recent turns", err)
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.turns[userID]
	start := max(len(list)-limit, 0)
	return slices.Clone(list[start:]), nil
}

// RecentMoods returns the newest limit mood entries, oldest first.
func (s *MemoryStore) RecentMoods(ctx context.Context, userID chat.UserID, limit int) ([]mood.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, IOError("recent moods", err)
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.moods[userID]
	start := max(len(list)-limit, 0)
	return cloneMoods(list[start:]), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func compareTurns(a, b chat.Turn) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareMoods(a, b mood.Entry) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func cloneMoods(entries []mood.Entry) []mood.Entry {
	out := make([]mood.Entry, len(entries))
	for i, entry := range entries {
		if entry.Score != nil {
			score := *entry.Score
			entry.Score = &score
		}
		out[i] = entry
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
