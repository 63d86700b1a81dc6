package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"tickerdesk.io/internal/audit"
	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/obs"
	"tickerdesk.io/internal/user"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := user.NormalizeEmail(req.Email)
	if !validEmail(email) {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}

	u, err := a.users.Create(r.Context(), user.NewParams{
		Email:        email,
		PasswordHash: hash,
		Name:         req.Name,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}

	token, expiresAt, err := a.tokens.Issue(u.ID, u.Email)
	if err != nil {
		a.internalError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventSignup, map[string]any{"user_id": u.ID})

	writeJSON(w, http.StatusCreated, credentialResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      u.Public(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const badCredentials = "invalid email or password"

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Unknown email and wrong password answer identically.
	u, err := a.users.FindByEmail(r.Context(), req.Email)
	if errors.Is(err, user.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, badCredentials)
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	if err := auth.VerifyPassword(u.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, badCredentials)
		return
	}

	now := time.Now().UTC()
	if err := a.users.UpdateLastLogin(r.Context(), u.ID, now); err != nil {
		// Non-fatal: the login proceeds, the stamp is best-effort.
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "last-login stamp failed",
			"error": err.Error(),
		})
	} else {
		u.LastLoginAt = &now
	}

	token, expiresAt, err := a.tokens.Issue(u.ID, u.Email)
	if err != nil {
		a.internalError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{"user_id": u.ID})

	writeJSON(w, http.StatusOK, credentialResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      u.Public(),
	})
}

// handleLogout acknowledges a client-side token discard. Credentials are
// stateless, so there is nothing to revoke server-side.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMe serves the authenticated account: introspection, partial profile
// update, and deletion.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	switch r.Method {
	case http.MethodGet:
		u, err := a.users.FindByID(r.Context(), userID)
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		if err != nil {
			a.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u.Public())

	case http.MethodPatch:
		a.updateProfile(w, r, userID)

	case http.MethodDelete:
		if err := a.users.Delete(r.Context(), userID); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account not found")
				return
			}
			a.internalError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.EventAccountDeleted, nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}

type profileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email != nil && !validEmail(user.NormalizeEmail(*req.Email)) {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	err := a.users.UpdateProfile(r.Context(), userID, user.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}
	if errors.Is(err, user.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}

	u, err := a.users.FindByID(r.Context(), userID)
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
