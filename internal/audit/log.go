// Package audit records security-relevant account and billing events as
// structured log entries enriched with request and user identity.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/obs"
)

// Event names the auditable actions. Free-form names are accepted, but
// callers should use these so the trail stays greppable.
type Event string

const (
	EventSignup         Event = "auth.signup"
	EventLogin          Event = "auth.login"
	EventPasswordReset  Event = "auth.password_reset"
	EventAccountDeleted Event = "auth.account_deleted"

	EventTransitionApplied Event = "billing.transition_applied"
	EventUnactionable      Event = "billing.event_unactionable"
	EventInvoiceFailed     Event = "billing.invoice_failed"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and acting
// user pulled from ctx.
func LogEvent(ctx context.Context, event Event, fields map[string]any) error {
	name := strings.TrimSpace(string(event))
	if name == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": name,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
