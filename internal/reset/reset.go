// Package reset manages single-use, time-bounded password reset tokens.
// Only a one-way hash of the secret is ever persisted; the plaintext secret
// exists in the reset URL mailed to the account holder and nowhere else.
package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/mail"
	"tickerdesk.io/internal/obs"
	"tickerdesk.io/internal/store"
	"tickerdesk.io/internal/user"
)

// TokenTTL is the reset token validity window.
const TokenTTL = time.Hour

// ErrInvalidToken covers absent, expired and already-consumed tokens alike.
var ErrInvalidToken = errors.New("reset: invalid or expired token")

// Manager issues, validates and consumes reset tokens.
type Manager struct {
	db      store.DB
	users   *user.Store
	mailer  mail.Mailer
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTTL overrides the token validity window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. baseURL is the public app origin embedded
// into reset links.
func NewManager(db store.DB, users *user.Store, mailer mail.Mailer, baseURL string, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		users:   users,
		mailer:  mailer,
		baseURL: baseURL,
		ttl:     TokenTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request issues a fresh token for the account behind email and mails the
// reset link. An unknown email performs no state change but returns nil all
// the same, so responses are indistinguishable from the happy path. A prior
// live token for the user is replaced and thereby invalidated.
func (m *Manager) Request(ctx context.Context, email string) error {
	u, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	secret, hash, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generate reset secret: %w", err)
	}
	expiresAt := m.now().UTC().Add(m.ttl)

	_, err = m.db.Execute(ctx, `
		insert into password_reset_tokens (user_id, token_hash, expires_at)
		values ($1, $2, $3)
		on conflict (user_id) do update set
			token_hash = excluded.token_hash,
			expires_at = excluded.expires_at`,
		u.ID, hash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	// Delivery is fire-and-forget: a mail failure is logged, not surfaced.
	resetURL := m.baseURL + "/reset-password?token=" + url.QueryEscape(secret)
	if err := m.mailer.Send(ctx, mail.KindPasswordReset, u.Email, map[string]string{
		"reset_url": resetURL,
	}); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "password reset mail failed",
			"error": err.Error(),
		})
	}
	return nil
}

// Validate resolves a presented secret to its owning user id. Expired rows
// are deleted on sight; absent, expired and consumed tokens all return
// ErrInvalidToken.
func (m *Manager) Validate(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidToken
	}
	hash := hashSecret(secret)
	var (
		userID    string
		expiresAt time.Time
	)
	err := m.db.FetchOne(ctx,
		`select user_id, expires_at from password_reset_tokens where token_hash = $1`,
		hash,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, store.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup reset token: %w", err)
	}
	if m.now().UTC().After(expiresAt) {
		// Lazy cleanup: expired rows are inert and removed on first use.
		if _, err := m.db.Execute(ctx, `delete from password_reset_tokens where user_id = $1`, userID); err != nil {
			return "", fmt.Errorf("delete expired reset token: %w", err)
		}
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Consume validates the secret, replaces the user's password credential and
// deletes the token. It succeeds at most once per issued secret.
func (m *Manager) Consume(ctx context.Context, secret, newPassword string) error {
	userID, err := m.Validate(ctx, secret)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := m.db.Execute(ctx, `delete from password_reset_tokens where user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	return nil
}

// generateSecret draws a 256-bit random secret and returns it alongside its
// storage hash.
func generateSecret() (secret, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, hashSecret(secret), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
