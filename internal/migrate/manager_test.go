package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"tickerdesk.io/internal/store"
	"tickerdesk.io/internal/store/lite"
)

func openTestDB(t *testing.T) store.DB {
	t.Helper()
	db, err := lite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewManager(db, All())

	if err := m.Up(ctx); err != nil {
		t.Fatalf("first Up: %v", err)
	}
	// A second run finds everything recorded and applies nothing.
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second Up: %v", err)
	}

	names, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(names) != len(All()) {
		t.Fatalf("recorded %d migrations, want %d", len(names), len(All()))
	}
	for i, mig := range All() {
		if names[i] != mig.Name {
			t.Fatalf("migration %d = %q, want %q", i, names[i], mig.Name)
		}
	}
}

func TestUpAppliesSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := NewManager(db, All()).Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}

	for _, table := range []string{"users", "password_reset_tokens", "watchlist_items", "alerts"} {
		var count int
		if err := db.FetchOne(ctx, `select count(*) from `+table).Scan(&count); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestUpRejectsUnknownDialect(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	missing := []Migration{{
		Name:       "9999_test",
		Statements: map[string][]string{store.DialectPostgres: {"select 1"}},
	}}
	if err := NewManager(db, missing).Up(ctx); err == nil {
		t.Fatal("expected error for missing dialect statements")
	}
}

func TestCustomMigrationsTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewManager(db, All(), WithMigrationsTable("bookkeeping"))
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	var count int
	if err := db.FetchOne(ctx, `select count(*) from bookkeeping`).Scan(&count); err != nil {
		t.Fatalf("bookkeeping table missing: %v", err)
	}
	if count != len(All()) {
		t.Fatalf("recorded %d, want %d", count, len(All()))
	}
}
