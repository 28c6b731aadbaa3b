// Package sqlstore implements the log store on SQL databases: SQLite,
// libSQL (Turso) and Postgres share one implementation and differ only in
// driver, placeholders and migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // libSQL driver
	_ "modernc.org/sqlite"                               // SQLite driver

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

// ErrUnknownDialect is returned by Open for unsupported dialects.
var ErrUnknownDialect = errors.New("sqlstore: unknown dialect")

func (d Dialect) driverName() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectLibSQL:
		return "libsql"
	case DialectPostgres:
		return "postgres"
	default:
		return ""
	}
}

func (d Dialect) gooseDialect() goose.Dialect {
	switch d {
	case DialectLibSQL:
		return goose.DialectTurso
	case DialectPostgres:
		return goose.DialectPostgres
	default:
		return goose.DialectSQLite3
	}
}

func (d Dialect) migrationsDir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// Store implements store.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
	now     func() time.Time
}

// Open connects to dsn, applies pending migrations and returns the store.
func Open(ctx context.Context, dialect Dialect, dsn string, logger zerolog.Logger) (*Store, error) {
	driver := dialect.driverName()
	if driver == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		if err := configureSQLite(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	s, err := New(ctx, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies pending migrations.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger zerolog.Logger) (*Store, error) {
	if dialect.driverName() == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With().Str("component", "sqlstore").Str("dialect", string(dialect)).Logger(),
		now:     time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// configureSQLite keeps a single connection so writes are serialized, and
// asks for fully synchronous commits so an acknowledged append survives a crash.
func configureSQLite(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, s.dialect.migrationsDir())
	if err != nil {
		return fmt.Errorf("sqlstore: migrations: %w", err)
	}

	provider, err := goose.NewProvider(s.dialect.gooseDialect(), s.db, fsys)
	if err != nil {
		return fmt.Errorf("sqlstore: migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	for _, res := range results {
		s.logger.Info().
			Int64("version", res.Source.Version).
			Dur("duration", res.Duration).
			Msg("applied migration")
	}
	return nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUser inserts a profile unless one exists.
func (s *Store) SaveUser(ctx context.Context, user chat.User) error {
	if user.ID == "" {
		return store.SerializationError("save user", fmt.Errorf("%w: user id is required", store.ErrInvalidRecord))
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (user_id, username, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`),
		string(user.ID), user.Username, user.FirstName, user.LastName, user.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return store.IOError("save user", err)
	}
	return nil
}

// AppendTurn inserts a turn.
func (s *Store) AppendTurn(ctx context.Context, turn chat.Turn) (string, error) {
	turn, err := store.PrepareTurn(turn, s.now())
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO chat_turns (id, user_id, exchange_id, role, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		turn.ID, string(turn.UserID), turn.ExchangeID, string(turn.Role), turn.Text, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", store.IOError("append turn", err)
	}

	s.logger.Debug().
		Str("user_id", string(turn.UserID)).
		Str("role", string(turn.Role)).
		Str("id", turn.ID).
		Msg("appended turn")
	return turn.ID, nil
}

// AppendMood inserts a mood entry.
func (s *Store) AppendMood(ctx context.Context, entry mood.Entry) (string, error) {
	entry, err := store.PrepareMood(entry, s.now())
	if err != nil {
		return "", err
	}

	var score sql.NullFloat64
	if entry.Score != nil {
		score = sql.NullFloat64{Float64: *entry.Score, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO mood_entries (id, user_id, label, score, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		entry.ID, string(entry.UserID), entry.Label, score, string(entry.Source), entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", store.IOError("append mood", err)
	}
	return entry.ID, nil
}

const turnColumns = "id, user_id, exchange_id, role, body, created_at"

const moodColumns = "id, user_id, label, score, source, created_at"

// QueryTurns streams turns lazily. The rows stay open until iteration ends,
// so callers must not write to a single-connection store from inside the loop.
func (s *Store) QueryTurns(ctx context.Context, userID chat.UserID, r store.TimeRange) iter.Seq2[chat.Turn, error] {
	query, args := rangeQuery("chat_turns", turnColumns, userID, r)
	return queryAll(ctx, s, "query turns", query, args, scanTurn)
}

// QueryMoods streams mood entries lazily.
func (s *Store) QueryMoods(ctx context.Context, userID chat.UserID, r store.TimeRange) iter.Seq2[mood.Entry, error] {
	query, args := rangeQuery("mood_entries", moodColumns, userID, r)
	return queryAll(ctx, s, "query moods", query, args, scanMood)
}

// RecentTurns returns the newest limit turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error) {
	return recent(ctx, s, "recent turns", "chat_turns", turnColumns, userID, limit, scanTurn)
}

// RecentMoods returns the newest limit mood entries, oldest first.
func (s *Store) RecentMoods(ctx context.Context, userID chat.UserID, limit int) ([]mood.Entry, error) {
	return recent(ctx, s, "recent moods", "mood_entries", moodColumns, userID, limit, scanMood)
}

func rangeQuery(table, columns string, userID chat.UserID, r store.TimeRange) (string, []any) {
	var b strings.Builder
	args := []any{string(userID)}

	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE user_id = ?", columns, table)
	if !r.From.IsZero() {
		b.WriteString(" AND created_at >= ?")
		args = append(args, r.From.UTC().UnixNano())
	}
	if !r.To.IsZero() {
		b.WriteString(" AND created_at < ?")
		args = append(args, r.To.UTC().UnixNano())
	}
	b.WriteString(" ORDER BY created_at ASC, id ASC")
	return b.String(), args
}

type scanner interface {
	Scan(dest ...any) error
}

func queryAll[T any](ctx context.Context, s *Store, op, query string, args []any, scan func(scanner) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			yield(zero, store.IOError(op, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				yield(zero, store.SerializationError(op, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, store.IOError(op, err))
		}
	}
}

func recent[T any](ctx context.Context, s *Store, op, table, columns string, userID chat.UserID, limit int, scan func(scanner) (T, error)) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?", columns, table)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), string(userID), limit)
	if err != nil {
		return nil, store.IOError(op, err)
	}
	defer rows.Close()

	items := make([]T, 0, limit)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, store.SerializationError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, store.IOError(op, err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func scanTurn(row scanner) (chat.Turn, error) {
	var (
		turn      chat.Turn
		userID    string
		role      string
		createdAt int64
	)
	if err := row.Scan(&turn.ID, &userID, &turn.ExchangeID, &role, &turn.Text, &createdAt); err != nil {
		return chat.Turn{}, err
	}

	turn.UserID = chat.UserID(userID)
	turn.Role = chat.Role(role)
	if !turn.Role.Valid() {
		return chat.Turn{}, fmt.Errorf("turn %s: unknown role %q", turn.ID, role)
	}
	turn.CreatedAt = time.Unix(0, createdAt).UTC()
	return turn, nil
}

func scanMood(row scanner) (mood.Entry, error) {
	var (
		entry     mood.Entry
		userID    string
		source    string
		score     sql.NullFloat64
		createdAt int64
	)
	if err := row.Scan(&entry.ID, &userID, &entry.Label, &score, &source, &createdAt); err != nil {
		return mood.Entry{}, err
	}

	entry.UserID = chat.UserID(userID)
	entry.Source = mood.Source(source)
	if score.Valid {
		value := score.Float64
		entry.Score = &value
	}
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	return entry, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ store.Store = (*Store)(nil)
