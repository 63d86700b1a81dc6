package httpapi

import (
	"errors"
	"net/http"

	"tickerdesk.io/internal/audit"
	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/reset"
)

type resetRequestBody struct {
	Email string `json:"email"`
}

// handleResetRequest always answers the same 200 body whether or not the
// email belongs to an account, so the endpoint cannot be used to probe for
// registered addresses.
func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := a.resets.Request(r.Context(), req.Email); err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type resetConsumeBody struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleResetConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetConsumeBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := a.resets.Consume(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, reset.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid or expired token")
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
	case err != nil:
		a.internalError(w, err)
	default:
		_ = audit.LogEvent(r.Context(), audit.EventPasswordReset, nil)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// handleResetValidate is the client-side UX probe: a boolean only, never
// user data.
func (a *API) handleResetValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	token := r.URL.Query().Get("token")
	_, err := a.resets.Validate(r.Context(), token)
	switch {
	case errors.Is(err, reset.ErrInvalidToken):
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
	case err != nil:
		a.internalError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	}
}
