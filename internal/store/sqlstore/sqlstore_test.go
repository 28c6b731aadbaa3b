package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/internal/store/sqlstore"
	"github.com/zhouzirui/mindfriend/backend/internal/store/storetest"
)

func openSQLite(t *testing.T, dsn string) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DialectSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := openSQLite(t, ":memory:")
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mental_health_bot.db")
	at := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)

	s := openSQLite(t, path)
	_, err := s.AppendTurn(ctx, chat.Turn{UserID: "U1", Role: chat.RoleUser, Text: "remember me", CreatedAt: at})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs migrations again; they must be a no-op.
	reopened := openSQLite(t, path)
	defer reopened.Close()

	turns := storetest.CollectTurns(t, reopened, "U1", store.AllTime())
	require.Len(t, turns, 1)
	assert.Equal(t, "remember me", turns[0].Text)
	assert.True(t, at.Equal(turns[0].CreatedAt))
}

func TestOpenUnknownDialect(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "oracle", "dsn", zerolog.Nop())
	assert.ErrorIs(t, err, sqlstore.ErrUnknownDialect)
}

func TestClosedStoreReportsIOFailure(t *testing.T) {
	s := openSQLite(t, ":memory:")
	require.NoError(t, s.Close())

	_, err := s.AppendTurn(context.Background(), chat.Turn{UserID: "U1", Role: chat.RoleUser, Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, store.IOFailure, store.KindOf(err))
}

// TestPostgresContract runs only when MINDFRIEND_TEST_POSTGRES_DSN points at a
// scratch database.
func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("MINDFRIEND_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MINDFRIEND_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.DialectPostgres, dsn, zerolog.Nop())
		require.NoError(t, err)
		_, err = s.DB().Exec("TRUNCATE users, chat_turns, mood_entries")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
