// Package lite implements the store.DB contract on an embedded file-backed
// SQLite database (pure-Go driver). It serves deployments without a
// DATABASE_URL: the whole store lives in a single local file.
package lite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tickerdesk.io/internal/store"
)

// Store wraps the embedded database. Writes are serialized with a mutex
// because the driver does not support concurrent writers.
type Store struct {
	db        *sql.DB
	writeLock sync.Mutex
}

var _ store.DB = (*Store)(nil)

// Open opens (creating if needed) the database file at path. Pragmas ride
// the DSN so every pooled connection gets them: busy_timeout for writer
// contention, WAL for durability per commit, foreign_keys for the
// user->token cascade.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Dialect() string { return store.DialectSQLite }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	res, err := s.db.ExecContext(ctx, rewritePlaceholders(query), args...)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return 0, fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
			}
		}
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) FetchOne(ctx context.Context, query string, args ...any) store.Row {
	return row{r: s.db.QueryRowContext(ctx, rewritePlaceholders(query), args...)}
}

func (s *Store) FetchAll(ctx context.Context, query string, args ...any) (store.Rows, error) {
	rows, err := s.db.QueryContext(ctx, rewritePlaceholders(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type row struct {
	r *sql.Row
}

func (w row) Scan(dest ...any) error {
	err := w.r.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNoRows
	}
	return err
}

// rewritePlaceholders converts $1..$n positional placeholders to the
// numbered ?1..?n syntax sqlite expects. Numbered placeholders keep
// reordered or repeated parameters bound correctly. Dollar signs inside
// single-quoted literals are left untouched.
func rewritePlaceholders(query string) string {
	if !strings.ContainsRune(query, '$') {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '$' && !inLiteral && i+1 < len(query) && isDigit(query[i+1]):
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
				b.WriteByte(query[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
