package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/internal/store/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AppendTurn(ctx, chat.Turn{UserID: "U1", Role: chat.RoleUser, Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, store.IOFailure, store.KindOf(err))
}

func TestTimeRangeContains(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	r := store.TimeRange{From: from, To: to}

	assert.True(t, r.Contains(from))
	assert.True(t, r.Contains(to.Add(-time.Nanosecond)))
	assert.False(t, r.Contains(to))
	assert.False(t, r.Contains(from.Add(-time.Nanosecond)))
	assert.True(t, store.AllTime().Contains(time.Time{}))
}

func TestNewIDSortsByTime(t *testing.T) {
	early := store.NewID(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	late := store.NewID(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Less(t, early, late)
}
