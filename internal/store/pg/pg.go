// Package pg implements the store.DB contract on PostgreSQL through the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tickerdesk.io/internal/store"
)

const pgErrUniqueViolation = "23505"

// Store holds the process-wide connection pool.
type Store struct {
	db *sql.DB
}

var _ store.DB = (*Store)(nil)

// Open connects to PostgreSQL and verifies reachability. An unreachable
// database is a startup-fatal condition for callers.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Dialect() string { return store.DialectPostgres }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return 0, fmt.Errorf("%w: %s", store.ErrDuplicateKey, pgErr.ConstraintName)
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
	return row{r: s.db.QueryRowContext(ctx, query, args...)}
}

func (s *Store) FetchAll(ctx context.Context, query string, args ...any) (store.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
