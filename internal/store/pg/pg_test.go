package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tickerdesk.io/internal/store"
)

func TestExecuteTranslatesUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WithArgs("a@b.com").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	s := NewWithDB(db)
	_, err = s.Execute(context.Background(), `insert into users(email) values($1)`, "a@b.com")
	if !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecuteReportsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update users set tier").
		WithArgs("pro", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewWithDB(db)
	affected, err := s.Execute(context.Background(), `update users set tier = $1 where id = $2`, "pro", "u1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFetchOneTranslatesNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id from users").
		WithArgs("missing@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := NewWithDB(db)
	var id string
	err = s.FetchOne(context.Background(), `select id from users where email = $1`, "missing@b.com").Scan(&id)
	if !errors.Is(err, store.ErrNoRows) {
		t.Fatalf("got %v, want ErrNoRows", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
