package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/billing"
	"tickerdesk.io/internal/obs"
	"tickerdesk.io/internal/user"
)

// signatureHeader carries the processor's delivery signature.
const signatureHeader = "Stripe-Signature"

// handleWebhook ingests processor deliveries. The handler must see the
// unmodified byte stream: the signature covers exact bytes, so the body is
// read raw and never reserialized before verification.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	result, err := a.reconciler.Process(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case errors.Is(err, billing.ErrBadSignature):
		// Terminal: the delivery is presumed forged or corrupted, and the
		// sender retries 4xx responses nowhere.
		obs.CountWebhookEvent(result.EventType, obs.WebhookRejected)
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, billing.ErrMalformedPayload):
		obs.CountWebhookEvent(result.EventType, obs.WebhookRejected)
		writeError(w, http.StatusBadRequest, "malformed payload")
	case err != nil:
		// A post-verification transition failure must return 500 so the
		// sender redelivers; swallowing it would leave state drifted.
		obs.CountWebhookEvent(result.EventType, obs.WebhookFailed)
		a.internalError(w, err)
	default:
		switch result.Outcome {
		case billing.OutcomeApplied:
			obs.CountWebhookEvent(result.EventType, obs.WebhookApplied)
		default:
			obs.CountWebhookEvent(result.EventType, obs.WebhookIgnored)
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

type checkoutRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	u, err := a.users.FindByID(r.Context(), userID)
	if errors.Is(err, user.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}

	// Body is optional; defaults point back at the app. ContentLength is
	// unreliable (chunked requests report -1), so read and check the bytes.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	var req checkoutRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.SuccessURL == "" {
		req.SuccessURL = a.appBaseURL + "/account?checkout=success"
	}
	if req.CancelURL == "" {
		req.CancelURL = a.appBaseURL + "/account?checkout=canceled"
	}

	url, err := a.sessions.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		UserID:     u.ID,
		CustomerID: u.CustomerID,
		Email:      u.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (a *API) handlePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	u, err := a.users.FindByID(r.Context(), userID)
	if errors.Is(err, user.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	if u.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "no billing account for this user")
		return
	}

	url, err := a.sessions.CreatePortalSession(r.Context(), u.CustomerID, a.appBaseURL+"/account")
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}
