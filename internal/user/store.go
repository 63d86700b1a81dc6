package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tickerdesk.io/internal/ids"
	"tickerdesk.io/internal/store"
)

const userColumns = `id, email, password_hash, name, tier, subscription_status,
	customer_id, created_at, updated_at, last_login_at`

// Store is the data-access layer for user records. It carries no state
// beyond the backend handle; every operation is a single statement.
type Store struct {
	db store.DB
}

// NewStore wraps the backend handle.
func NewStore(db store.DB) *Store {
	return &Store{db: db}
}

// NewParams are the inputs for Create. Email must already be validated;
// PasswordHash must already be hashed.
type NewParams struct {
	Email        string
	PasswordHash string
	Name         string
}

// Create inserts a fresh user row with a generated id and free/active
// subscription defaults. Duplicate emails surface as ErrEmailTaken: the
// unique index is the enforcement point, not an application pre-check.
func (s *Store) Create(ctx context.Context, p NewParams) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:                 ids.New(),
		Email:              NormalizeEmail(p.Email),
		PasswordHash:       p.PasswordHash,
		Name:               strings.TrimSpace(p.Name),
		Tier:               TierFree,
		SubscriptionStatus: StatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	_, err := s.db.Execute(ctx, `
		insert into users (id, email, password_hash, name, tier, subscription_status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.PasswordHash, nullableString(u.Name), u.Tier, u.SubscriptionStatus, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// FindByID fetches a user by primary key.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.FetchOne(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

// FindByEmail fetches a user by normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.FetchOne(ctx, `select `+userColumns+` from users where email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

// FindByCustomerID fetches a user by external payment-processor customer
// reference.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*User, error) {
	row := s.db.FetchOne(ctx, `select `+userColumns+` from users where customer_id = $1`, customerID)
	return scanUser(row)
}

// ProfileUpdate carries optional profile fields. Nil fields are untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UpdateProfile rewrites only the supplied fields. An email change goes
// through the same normalization and uniqueness enforcement as Create.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error {
	sets := []string{}
	args := []any{}
	n := 0
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}
	if upd.Name != nil {
		sets = append(sets, "name = "+next())
		args = append(args, nullableString(strings.TrimSpace(*upd.Name)))
	}
	if upd.Email != nil {
		sets = append(sets, "email = "+next())
		args = append(args, NormalizeEmail(*upd.Email))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = "+next())
	args = append(args, time.Now().UTC())
	args = append(args, id)

	affected, err := s.db.Execute(ctx,
		fmt.Sprintf(`update users set %s where id = %s`, strings.Join(sets, ", "), next()),
		args...,
	)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored credential hash.
func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	affected, err := s.db.Execute(ctx,
		`update users set password_hash = $1, updated_at = $2 where id = $3`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastLogin stamps the login instant.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Execute(ctx,
		`update users set last_login_at = $1, updated_at = $2 where id = $3`,
		at.UTC(), time.Now().UTC(), id,
	)
	return err
}

// SubscriptionUpdate is the reconciler's write shape. CustomerID, when
// non-nil, records the external customer reference.
type SubscriptionUpdate struct {
	Tier       string
	Status     string
	CustomerID *string
}

// ApplySubscription rewrites the subscription fields for a user id. The
// write is an unconditional single-statement assignment, so re-applying
// the same update is idempotent and concurrent duplicates are safe.
func (s *Store) ApplySubscription(ctx context.Context, id string, upd SubscriptionUpdate) error {
	var (
		affected int64
		err      error
	)
	now := time.Now().UTC()
	if upd.CustomerID != nil {
		affected, err = s.db.Execute(ctx,
			`update users set tier = $1, subscription_status = $2, customer_id = $3, updated_at = $4 where id = $5`,
			upd.Tier, upd.Status, *upd.CustomerID, now, id,
		)
	} else {
		affected, err = s.db.Execute(ctx,
			`update users set tier = $1, subscription_status = $2, updated_at = $3 where id = $4`,
			upd.Tier, upd.Status, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("apply subscription: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplySubscriptionByCustomer is ApplySubscription keyed by the external
// customer reference, for events that carry no direct user reference.
func (s *Store) ApplySubscriptionByCustomer(ctx context.Context, customerID string, upd SubscriptionUpdate) error {
	affected, err := s.db.Execute(ctx,
		`update users set tier = $1, subscription_status = $2, updated_at = $3 where customer_id = $4`,
		upd.Tier, upd.Status, time.Now().UTC(), customerID,
	)
	if err != nil {
		return fmt.Errorf("apply subscription by customer: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the account row. Reset tokens ride along via the
// foreign-key cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row store.Row) (*User, error) {
	var (
		u          User
		name       sql.NullString
		customerID sql.NullString
		lastLogin  sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &name, &u.Tier, &u.SubscriptionStatus,
		&customerID, &u.CreatedAt, &u.UpdatedAt, &lastLogin,
	)
	if errors.Is(err, store.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.CustomerID = customerID.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
