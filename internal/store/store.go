// Package store defines the uniform query surface shared by the two
// relational backends. Statements are written once with $1..$n placeholders;
// each backend rewrites them to whatever its driver requires before dispatch.
package store

import (
	"context"
	"errors"
)

// Dialect identifiers reported by the backends.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var (
	// ErrNoRows marks an absent row on FetchOne.
	ErrNoRows = errors.New("store: no rows")
	// ErrDuplicateKey marks a uniqueness violation on Execute.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Row scans a single fetched row. Scan returns ErrNoRows when the row is absent.
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a fetched result set.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DB is the persistence abstraction. The backend is chosen once at startup
// and lives for the process lifetime.
type DB interface {
	// Execute runs a mutation and reports affected rows. Uniqueness
	// violations are translated to ErrDuplicateKey.
	Execute(ctx context.Context, query string, args ...any) (int64, error)
	// FetchOne runs a query expected to yield at most one row.
	FetchOne(ctx context.Context, query string, args ...any) Row
	// FetchAll runs a query yielding any number of rows.
	FetchAll(ctx context.Context, query string, args ...any) (Rows, error)

	Dialect() string
	Ping(ctx context.Context) error
	Close() error
}
