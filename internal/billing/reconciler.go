package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickerdesk.io/internal/audit"
	"tickerdesk.io/internal/user"
)

// Outcome classifies what a delivery did once past the signature gate.
type Outcome string

const (
	// OutcomeApplied means a subscription transition was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the delivery was acknowledged without a write:
	// unknown type, observation-only type, or un-actionable payload.
	OutcomeIgnored Outcome = "ignored"
)

// Result reports the processed delivery for logging and metrics.
type Result struct {
	EventType string
	Outcome   Outcome
}

// Reconciler verifies webhook deliveries and applies their state
// transitions to user records.
type Reconciler struct {
	users  *user.Store
	secret []byte
	now    func() time.Time
}

// ReconcilerOption configures Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewReconciler constructs a Reconciler. secret is the shared webhook
// signing secret.
func NewReconciler(users *user.Store, secret string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		users:  users,
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process authenticates a raw delivery and applies its transition.
//
// Error classes map directly to the webhook endpoint's responses:
// ErrBadSignature and ErrMalformedPayload are terminal rejections, any other
// error is a transient transition failure the sender should redeliver.
func (r *Reconciler) Process(ctx context.Context, body []byte, sigHeader string) (Result, error) {
	if err := VerifySignature(r.secret, body, sigHeader, r.now()); err != nil {
		return Result{}, err
	}
	event, err := DecodeEvent(body)
	if err != nil {
		return Result{}, err
	}
	outcome, err := r.apply(ctx, event)
	if err != nil {
		return Result{EventType: event.eventType()}, err
	}
	return Result{EventType: event.eventType(), Outcome: outcome}, nil
}

// apply runs the transition table. The switch over the sealed union is
// exhaustive: a new event variant will not compile without a case here.
func (r *Reconciler) apply(ctx context.Context, event Event) (Outcome, error) {
	switch e := event.(type) {
	case CheckoutCompleted:
		if e.UserID == "" {
			return r.unactionable(ctx, e.eventType(), "missing client reference")
		}
		upd := user.SubscriptionUpdate{Tier: user.TierPro, Status: user.StatusActive}
		if e.CustomerID != "" {
			upd.CustomerID = &e.CustomerID
		}
		return r.write(ctx, e.eventType(), func() error {
			return r.users.ApplySubscription(ctx, e.UserID, upd)
		})

	case SubscriptionChanged:
		// Tier follows membership in the known pro statuses; the status
		// itself passes through as-is, recognized or not.
		tier := user.TierFree
		if user.ProStatus(e.Status) {
			tier = user.TierPro
		}
		upd := user.SubscriptionUpdate{Tier: tier, Status: e.Status}
		switch {
		case e.UserID != "":
			if e.CustomerID != "" {
				upd.CustomerID = &e.CustomerID
			}
			return r.write(ctx, e.eventType(), func() error {
				return r.users.ApplySubscription(ctx, e.UserID, upd)
			})
		case e.CustomerID != "":
			return r.write(ctx, e.eventType(), func() error {
				return r.users.ApplySubscriptionByCustomer(ctx, e.CustomerID, upd)
			})
		default:
			return r.unactionable(ctx, e.eventType(), "no user or customer reference")
		}

	case SubscriptionDeleted:
		upd := user.SubscriptionUpdate{Tier: user.TierFree, Status: user.StatusCanceled}
		switch {
		case e.UserID != "":
			return r.write(ctx, e.eventType(), func() error {
				return r.users.ApplySubscription(ctx, e.UserID, upd)
			})
		case e.CustomerID != "":
			return r.write(ctx, e.eventType(), func() error {
				return r.users.ApplySubscriptionByCustomer(ctx, e.CustomerID, upd)
			})
		default:
			return r.unactionable(ctx, e.eventType(), "no user or customer reference")
		}

	case InvoicePaymentFailed:
		// Observation only. Hook for dunning notifications later.
		_ = audit.LogEvent(ctx, audit.EventInvoiceFailed, map[string]any{
			"customer_id": e.CustomerID,
		})
		return OutcomeIgnored, nil

	case Unknown:
		return OutcomeIgnored, nil

	default:
		return OutcomeIgnored, nil
	}
}

// write runs a transition. A missing user record cannot be repaired by the
// sender retrying, so it is observed and acknowledged; anything else is a
// transient failure worth a redelivery.
func (r *Reconciler) write(ctx context.Context, eventType string, fn func() error) (Outcome, error) {
	err := fn()
	if errors.Is(err, user.ErrNotFound) {
		return r.unactionable(ctx, eventType, "no matching user record")
	}
	if err != nil {
		return "", fmt.Errorf("transition %s: %w", eventType, err)
	}
	_ = audit.LogEvent(ctx, audit.EventTransitionApplied, map[string]any{
		"event": eventType,
	})
	return OutcomeApplied, nil
}

func (r *Reconciler) unactionable(ctx context.Context, eventType, reason string) (Outcome, error) {
	_ = audit.LogEvent(ctx, audit.EventUnactionable, map[string]any{
		"event":  eventType,
		"reason": reason,
	})
	return OutcomeIgnored, nil
}
