// Package billing reconciles the payment processor's asynchronous webhook
// stream with the local subscription fields on user records. Deliveries are
// at-least-once, unordered and possibly duplicated; every transition is an
// idempotent single-statement write so replays and races converge.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Known processor event types.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionCreated = "customer.subscription.created"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
	TypeInvoiceFailed       = "invoice.payment_failed"
)

// ErrMalformedPayload marks a delivery whose body is not a decodable event
// envelope. The signature check has already passed at this point, so the
// payload is acknowledged-with-rejection rather than retried.
var ErrMalformedPayload = errors.New("billing: malformed event payload")

// Event is the closed set of webhook deliveries this system models. The
// unexported marker keeps the set sealed: adding a processor event type is a
// compile-time-visible change here and in the Reconciler's switch.
type Event interface {
	eventType() string
}

// CheckoutCompleted signals a finished checkout session. UserID echoes the
// client reference embedded at session-creation time.
type CheckoutCompleted struct {
	UserID     string
	CustomerID string
}

// SubscriptionChanged covers both subscription created and updated
// deliveries: the transition depends only on the carried status.
type SubscriptionChanged struct {
	Type       string
	UserID     string
	CustomerID string
	Status     string
}

// SubscriptionDeleted signals subscription termination. UserID may be empty;
// the user is then resolved by CustomerID.
type SubscriptionDeleted struct {
	UserID     string
	CustomerID string
}

// InvoicePaymentFailed is observation-only: no state mutation today, a
// notification hook later.
type InvoicePaymentFailed struct {
	CustomerID string
}

// Unknown is any event type this system does not model. It is acknowledged
// and ignored so the sender does not retry it forever.
type Unknown struct {
	Type string
}

func (CheckoutCompleted) eventType() string      { return TypeCheckoutCompleted }
func (e SubscriptionChanged) eventType() string  { return e.Type }
func (SubscriptionDeleted) eventType() string    { return TypeSubscriptionDeleted }
func (InvoicePaymentFailed) eventType() string   { return TypeInvoiceFailed }
func (e Unknown) eventType() string              { return e.Type }

// envelope is the processor's wire shape: a type tag plus a payload object
// whose fields depend on the tag.
type envelope struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
}

type subscriptionObject struct {
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

type invoiceObject struct {
	Customer string `json:"customer"`
}

// DecodeEvent parses a verified raw body into the event union. Unknown type
// tags decode to Unknown rather than an error.
func DecodeEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	switch env.Type {
	case TypeCheckoutCompleted:
		var obj checkoutObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return CheckoutCompleted{UserID: obj.ClientReferenceID, CustomerID: obj.Customer}, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		var obj subscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return SubscriptionChanged{
			Type:       env.Type,
			UserID:     obj.Metadata.UserID,
			CustomerID: obj.Customer,
			Status:     obj.Status,
		}, nil

	case TypeSubscriptionDeleted:
		var obj subscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return SubscriptionDeleted{UserID: obj.Metadata.UserID, CustomerID: obj.Customer}, nil

	case TypeInvoiceFailed:
		var obj invoiceObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return InvoicePaymentFailed{CustomerID: obj.Customer}, nil

	default:
		return Unknown{Type: env.Type}, nil
	}
}
