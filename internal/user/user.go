// Package user holds the user record model and its data-access layer over
// the store abstraction. Every other subsystem reads and writes user state
// through this package.
package user

import (
	"errors"
	"strings"
	"time"
)

// Subscription tiers.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Processor-defined subscription statuses this system names explicitly.
// Unrecognized statuses pass through as-is.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

var (
	ErrNotFound   = errors.New("user: not found")
	ErrEmailTaken = errors.New("user: email already registered")
)

// User is the account record: identity plus subscription state.
// PasswordHash never leaves the backend; responses use Public().
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Name               string
	Tier               string
	SubscriptionStatus string
	CustomerID         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastLoginAt        *time.Time
}

// Public is the user projection returned to clients.
type Public struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name,omitempty"`
	Tier               string     `json:"tier"`
	SubscriptionStatus string     `json:"subscription_status"`
	CreatedAt          time.Time  `json:"created_at"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

// Public returns the client-safe projection of the record.
func (u *User) Public() Public {
	return Public{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Tier:               u.Tier,
		SubscriptionStatus: u.SubscriptionStatus,
		CreatedAt:          u.CreatedAt,
		LastLoginAt:        u.LastLoginAt,
	}
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
// Uniqueness is case-insensitive because of this normalization.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProStatus reports whether a subscription status keeps the pro tier.
// tier=pro holds exactly when the status is active or trialing.
func ProStatus(status string) bool {
	return status == StatusActive || status == StatusTrialing
}
