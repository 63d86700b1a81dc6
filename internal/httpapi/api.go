// Package httpapi is the HTTP surface of the service. Handlers translate
// transport concerns to and from the domain packages; all business rules
// live below this layer.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/billing"
	"tickerdesk.io/internal/obs"
	"tickerdesk.io/internal/reset"
	"tickerdesk.io/internal/store"
	"tickerdesk.io/internal/user"
)

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	users      *user.Store
	tokens     *auth.Tokens
	resets     *reset.Manager
	reconciler *billing.Reconciler
	sessions   billing.SessionCreator
	db         store.DB
	appBaseURL string
	version    string
	production bool

	rateBurst  int
	ratePerSec int
}

// Options carries the API's collaborators.
type Options struct {
	Users      *user.Store
	Tokens     *auth.Tokens
	Resets     *reset.Manager
	Reconciler *billing.Reconciler
	// Sessions may be nil when the processor API key is not configured;
	// the session endpoints then answer 503.
	Sessions   billing.SessionCreator
	DB         store.DB
	AppBaseURL string
	Version    string
	Production bool
}

// New wires routes. The raw mux is private; serve through Handler.
func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		users:      opts.Users,
		tokens:     opts.Tokens,
		resets:     opts.Resets,
		reconciler: opts.Reconciler,
		sessions:   opts.Sessions,
		db:         opts.DB,
		appBaseURL: opts.AppBaseURL,
		version:    opts.Version,
		production: opts.Production,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/reset/request", a.handleResetRequest)
	a.mux.HandleFunc("/v1/auth/reset/consume", a.handleResetConsume)
	a.mux.HandleFunc("/v1/auth/reset/validate", a.handleResetValidate)

	a.mux.Handle("/v1/users/me", a.requireAuth(http.HandlerFunc(a.handleMe)))

	a.mux.Handle("/v1/billing/checkout", a.requireAuth(http.HandlerFunc(a.handleCheckout)))
	a.mux.Handle("/v1/billing/portal", a.requireAuth(http.HandlerFunc(a.handlePortal)))
	a.mux.HandleFunc("/v1/billing/webhook", a.handleWebhook)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tickerdesk-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// internalError hides unanticipated failure detail in production and
// surfaces it in development.
func (a *API) internalError(w http.ResponseWriter, err error) {
	obs.LogEvent(map[string]any{
		"level": "error",
		"msg":   "request failed",
		"error": err.Error(),
	})
	if a.production {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

type credentialResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      user.Public `json:"user"`
}
