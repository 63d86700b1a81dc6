// Package migrate applies ordered schema migrations through the store
// abstraction, with a bookkeeping table recording what already ran.
package migrate

import (
	"context"
	"fmt"
	"time"

	"tickerdesk.io/internal/store"
)

const defaultMigrationsTable = "schema_migrations"

// Migration is one named schema step with statements per backend dialect.
type Migration struct {
	Name       string
	Statements map[string][]string
}

// Manager executes migrations against a store backend.
type Manager struct {
	db              store.DB
	migrations      []Migration
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager over the given backend.
func NewManager(db store.DB, migrations []Migration, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	dialect := m.db.Dialect()
	for _, mig := range m.migrations {
		if executed[mig.Name] {
			continue
		}
		stmts, ok := mig.Statements[dialect]
		if !ok {
			return fmt.Errorf("migration %s has no statements for dialect %s", mig.Name, dialect)
		}
		for _, stmt := range stmts {
			if _, err := m.db.Execute(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", mig.Name, err)
			}
		}
		if err := m.insertRecord(ctx, mig.Name); err != nil {
			return err
		}
	}
	return nil
}

// Status returns applied migration names in execution order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.FetchAll(ctx,
		fmt.Sprintf(`select name from %s order by executed_at, name`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.Execute(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name        text primary key,
			executed_at timestamp not null
		)`, m.migrationsTable))
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.FetchAll(ctx,
		fmt.Sprintf(`select name from %s`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	executed := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		executed[name] = true
	}
	return executed, rows.Err()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	_, err := m.db.Execute(ctx,
		fmt.Sprintf(`insert into %s(name, executed_at) values($1, $2)`, m.migrationsTable),
		name, time.Now().UTC())
	return err
}
