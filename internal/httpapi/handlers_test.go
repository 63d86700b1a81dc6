package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/billing"
	"tickerdesk.io/internal/mail"
	"tickerdesk.io/internal/migrate"
	"tickerdesk.io/internal/reset"
	"tickerdesk.io/internal/store/lite"
	"tickerdesk.io/internal/user"
)

const (
	testAuthSecret    = "test-auth-secret"
	testWebhookSecret = "whsec_test"
)

type capturedMail struct {
	kind      mail.Kind
	recipient string
	data      map[string]string
}

type captureMailer struct {
	sent []capturedMail
}

func (m *captureMailer) Send(_ context.Context, kind mail.Kind, recipient string, data map[string]string) error {
	m.sent = append(m.sent, capturedMail{kind: kind, recipient: recipient, data: data})
	return nil
}

// fakeSessions satisfies billing.SessionCreator without talking to the
// payment processor.
type fakeSessions struct {
	lastCheckout billing.CheckoutParams
}

func (f *fakeSessions) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (string, error) {
	f.lastCheckout = p
	return "https://pay.example.com/session/cs_test", nil
}

func (f *fakeSessions) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://pay.example.com/portal/" + customerID, nil
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	users    *user.Store
	mailer   *captureMailer
	sessions *fakeSessions
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	db, err := lite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrate.NewManager(db, migrate.All()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := user.NewStore(db)
	tokens, err := auth.NewTokens(testAuthSecret)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	mailer := &captureMailer{}
	sessions := &fakeSessions{}

	api := New(Options{
		Users:      users,
		Tokens:     tokens,
		Resets:     reset.NewManager(db, users, mailer, "https://app.example.com"),
		Reconciler: billing.NewReconciler(users, testWebhookSecret),
		Sessions:   sessions,
		DB:         db,
		AppBaseURL: "https://app.example.com",
		Version:    "test",
	})
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		users:    users,
		mailer:   mailer,
		sessions: sessions,
	}
}

func (c *apiClient) do(method, path string, body []byte, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	return c.do(http.MethodPost, path, payload, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) signup(email, password string) credentialResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/signup", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected signup status: %d", resp.StatusCode)
	}
	var creds credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		c.t.Fatalf("decode signup response: %v", err)
	}
	if creds.Token == "" {
		c.t.Fatal("empty token issued")
	}
	return creds
}

// webhook signs body with the shared test secret and delivers it.
func (c *apiClient) webhook(body string) *http.Response {
	c.t.Helper()
	raw := []byte(body)
	return c.do(http.MethodPost, "/v1/billing/webhook", raw, map[string]string{
		signatureHeader: billing.Sign([]byte(testWebhookSecret), raw, time.Now()),
	})
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSignupLoginMeFlow(t *testing.T) {
	api := newTestAPI(t)

	creds := api.signup("Ada@Example.com", "password123")
	if creds.User.Email != "ada@example.com" {
		t.Fatalf("email = %q, want normalized", creds.User.Email)
	}
	if creds.User.Tier != user.TierFree || creds.User.SubscriptionStatus != user.StatusActive {
		t.Fatalf("defaults = %s/%s", creds.User.Tier, creds.User.SubscriptionStatus)
	}
	until := time.Until(creds.ExpiresAt)
	if until < 6*24*time.Hour || until > 8*24*time.Hour {
		t.Fatalf("token lifetime out of range: %v", until)
	}

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "password123",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	login := decode[credentialResponse](t, resp)
	if login.User.LastLoginAt == nil {
		t.Fatal("login must stamp last_login_at")
	}

	resp = api.get("/v1/users/me", nil, authHeaders(login.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected me status: %d", resp.StatusCode)
	}
	me := decode[user.Public](t, resp)
	if me.ID != creds.User.ID {
		t.Fatalf("me returned wrong account: %q", me.ID)
	}
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := map[string]map[string]any{
		"bad email":      {"email": "not-an-email", "password": "password123"},
		"empty email":    {"email": "", "password": "password123"},
		"short password": {"email": "a@b.com", "password": "short"},
	}
	for name, body := range cases {
		resp := api.post("/v1/auth/signup", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}

	api.signup("taken@example.com", "password123")
	resp := api.post("/v1/auth/signup", map[string]any{
		"email":    "Taken@Example.com",
		"password": "password123",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	api := newTestAPI(t)
	api.signup("ada@example.com", "password123")

	read := func(body map[string]any) (int, string) {
		resp := api.post("/v1/auth/login", body, nil)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		return resp.StatusCode, string(raw)
	}

	unknownCode, unknownBody := read(map[string]any{"email": "nobody@example.com", "password": "password123"})
	wrongCode, wrongBody := read(map[string]any{"email": "ada@example.com", "password": "wrong-password"})

	if unknownCode != http.StatusUnauthorized || wrongCode != http.StatusUnauthorized {
		t.Fatalf("statuses = %d/%d, want 401/401", unknownCode, wrongCode)
	}
	// Unknown account and wrong password must be indistinguishable.
	if unknownBody != wrongBody {
		t.Fatalf("bodies differ: %q vs %q", unknownBody, wrongBody)
	}
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	cases := map[string]map[string]string{
		"no header":      nil,
		"not bearer":     {"Authorization": "Basic abc"},
		"garbage token":  authHeaders("garbage"),
		"tampered token": authHeaders(creds.Token + "x"),
	}
	for name, headers := range cases {
		resp := api.get("/v1/users/me", nil, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, resp.StatusCode)
		}
	}
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	resp := api.post("/v1/auth/logout", nil, authHeaders(creds.Token))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}
	// Stateless credentials: the token still works afterwards.
	me := api.get("/v1/users/me", nil, authHeaders(creds.Token))
	me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("token invalidated by logout: %d", me.StatusCode)
	}
}

func TestProfileUpdate(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	body, _ := json.Marshal(map[string]any{"name": "Ada Lovelace"})
	resp := api.do(http.MethodPatch, "/v1/users/me", body, authHeaders(creds.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected patch status: %d", resp.StatusCode)
	}
	updated := decode[user.Public](t, resp)
	if updated.Name != "Ada Lovelace" {
		t.Fatalf("name = %q", updated.Name)
	}
	if updated.Email != "ada@example.com" {
		t.Fatalf("email must be untouched, got %q", updated.Email)
	}

	api.signup("taken@example.com", "password123")
	body, _ = json.Marshal(map[string]any{"email": "taken@example.com"})
	resp = api.do(http.MethodPatch, "/v1/users/me", body, authHeaders(creds.Token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("taken email status = %d, want 409", resp.StatusCode)
	}
}

func TestAccountDeletion(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	resp := api.do(http.MethodDelete, "/v1/users/me", nil, authHeaders(creds.Token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected delete status: %d", resp.StatusCode)
	}

	// The token remains cryptographically valid but the record is gone.
	me := api.get("/v1/users/me", nil, authHeaders(creds.Token))
	me.Body.Close()
	if me.StatusCode != http.StatusNotFound {
		t.Fatalf("status after deletion = %d, want 404", me.StatusCode)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	api := newTestAPI(t)
	api.signup("ada@example.com", "password123")

	read := func(email string) (int, string) {
		resp := api.post("/v1/auth/reset/request", map[string]any{"email": email}, nil)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		return resp.StatusCode, string(raw)
	}

	// Known and unknown addresses answer byte-identically.
	knownCode, knownBody := read("ada@example.com")
	unknownCode, unknownBody := read("nobody@example.com")
	if knownCode != http.StatusOK || unknownCode != http.StatusOK {
		t.Fatalf("statuses = %d/%d, want 200/200", knownCode, unknownCode)
	}
	if knownBody != unknownBody {
		t.Fatalf("bodies differ: %q vs %q", knownBody, unknownBody)
	}
	if len(api.mailer.sent) != 1 {
		t.Fatalf("expected exactly one mail, got %d", len(api.mailer.sent))
	}

	link, err := url.Parse(api.mailer.sent[0].data["reset_url"])
	if err != nil {
		t.Fatalf("parse reset url: %v", err)
	}
	secret := link.Query().Get("token")

	resp := api.get("/v1/auth/reset/validate", url.Values{"token": {secret}}, nil)
	if got := decode[map[string]bool](t, resp); !got["valid"] {
		t.Fatal("fresh token must validate")
	}

	resp = api.post("/v1/auth/reset/consume", map[string]any{
		"token":    secret,
		"password": "new-password-1",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected consume status: %d", resp.StatusCode)
	}

	// Single use: the secret is dead now.
	resp = api.post("/v1/auth/reset/consume", map[string]any{
		"token":    secret,
		"password": "new-password-2",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second consume status = %d, want 400", resp.StatusCode)
	}

	login := api.post("/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "new-password-1",
	}, nil)
	login.Body.Close()
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login with new password: %d", login.StatusCode)
	}
	old := api.post("/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "password123",
	}, nil)
	old.Body.Close()
	if old.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login with old password: %d", old.StatusCode)
	}
}

func TestResetValidateUnknownToken(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/auth/reset/validate", url.Values{"token": {"bogus"}}, nil)
	if got := decode[map[string]bool](t, resp); got["valid"] {
		t.Fatal("bogus token must not validate")
	}
}

func TestWebhookSubscriptionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	resp := api.webhook(`{"type":"checkout.session.completed","data":{"object":{"client_reference_id":"` + creds.User.ID + `","customer":"cus_42"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected webhook status: %d", resp.StatusCode)
	}
	if got := decode[map[string]bool](t, resp); !got["received"] {
		t.Fatal("webhook ack missing")
	}

	me := api.get("/v1/users/me", nil, authHeaders(creds.Token))
	got := decode[user.Public](t, me)
	if got.Tier != user.TierPro || got.SubscriptionStatus != user.StatusActive {
		t.Fatalf("state = %s/%s, want pro/active", got.Tier, got.SubscriptionStatus)
	}

	// Termination arrives keyed only by the customer reference.
	resp = api.webhook(`{"type":"customer.subscription.deleted","data":{"object":{"customer":"cus_42"}}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected webhook status: %d", resp.StatusCode)
	}
	me = api.get("/v1/users/me", nil, authHeaders(creds.Token))
	got = decode[user.Public](t, me)
	if got.Tier != user.TierFree || got.SubscriptionStatus != user.StatusCanceled {
		t.Fatalf("state = %s/%s, want free/canceled", got.Tier, got.SubscriptionStatus)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	raw := []byte(`{"type":"checkout.session.completed","data":{"object":{"client_reference_id":"` + creds.User.ID + `","customer":"cus_42"}}}`)
	cases := map[string]map[string]string{
		"no signature":    nil,
		"forged":          {signatureHeader: billing.Sign([]byte("other-secret"), raw, time.Now())},
		"stale timestamp": {signatureHeader: billing.Sign([]byte(testWebhookSecret), raw, time.Now().Add(-time.Hour))},
	}
	for name, headers := range cases {
		resp := api.do(http.MethodPost, "/v1/billing/webhook", raw, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}

	me := api.get("/v1/users/me", nil, authHeaders(creds.Token))
	got := decode[user.Public](t, me)
	if got.Tier != user.TierFree {
		t.Fatal("rejected deliveries must not mutate state")
	}
}

func TestWebhookAcknowledgesUnknownEvents(t *testing.T) {
	api := newTestAPI(t)

	resp := api.webhook(`{"type":"charge.refunded","data":{"object":{}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unknown event status = %d, want 200", resp.StatusCode)
	}
	if got := decode[map[string]bool](t, resp); !got["received"] {
		t.Fatal("webhook ack missing")
	}

	resp = api.webhook(`not json`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed payload status = %d, want 400", resp.StatusCode)
	}
}

func TestCheckoutAndPortal(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	resp := api.post("/v1/billing/checkout", nil, authHeaders(creds.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected checkout status: %d", resp.StatusCode)
	}
	out := decode[map[string]string](t, resp)
	if out["url"] == "" {
		t.Fatal("checkout returned no redirect url")
	}
	if api.sessions.lastCheckout.UserID != creds.User.ID {
		t.Fatalf("checkout user = %q", api.sessions.lastCheckout.UserID)
	}
	if api.sessions.lastCheckout.SuccessURL != "https://app.example.com/account?checkout=success" {
		t.Fatalf("default success url = %q", api.sessions.lastCheckout.SuccessURL)
	}

	// Portal needs an established billing customer.
	resp = api.post("/v1/billing/portal", nil, authHeaders(creds.Token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("portal without customer = %d, want 400", resp.StatusCode)
	}

	whResp := api.webhook(`{"type":"checkout.session.completed","data":{"object":{"client_reference_id":"` + creds.User.ID + `","customer":"cus_42"}}}`)
	whResp.Body.Close()

	resp = api.post("/v1/billing/portal", nil, authHeaders(creds.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected portal status: %d", resp.StatusCode)
	}
	portal := decode[map[string]string](t, resp)
	if portal["url"] != "https://pay.example.com/portal/cus_42" {
		t.Fatalf("portal url = %q", portal["url"])
	}
}

func TestCheckoutChunkedBody(t *testing.T) {
	api := newTestAPI(t)
	creds := api.signup("ada@example.com", "password123")

	// A chunked request carries no Content-Length; the supplied URLs must
	// still be honored.
	payload := []byte(`{"success_url":"https://app.example.com/done","cancel_url":"https://app.example.com/back"}`)
	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/billing/checkout", struct{ io.Reader }{bytes.NewReader(payload)})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected checkout status: %d", resp.StatusCode)
	}
	if api.sessions.lastCheckout.SuccessURL != "https://app.example.com/done" {
		t.Fatalf("success url = %q, want caller-supplied", api.sessions.lastCheckout.SuccessURL)
	}
	if api.sessions.lastCheckout.CancelURL != "https://app.example.com/back" {
		t.Fatalf("cancel url = %q, want caller-supplied", api.sessions.lastCheckout.CancelURL)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("healthz payload: %v", health)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/auth/signup", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", resp.Header.Get("Allow"))
	}
}
