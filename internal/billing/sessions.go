package billing

import "context"

// CheckoutParams describe a checkout session to create for an upgrading
// user. UserID is embedded as the session's client reference so the
// checkout-completed event can be tied back to the account.
type CheckoutParams struct {
	UserID     string
	CustomerID string
	Email      string
	SuccessURL string
	CancelURL  string
}

// SessionCreator is the payment processor's session capability at its
// interface boundary: both calls return an opaque redirect URL.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
