// Package stripeclient is a minimal client for the payment processor's
// session endpoints. The processor's REST API is form-encoded; responses are
// JSON. Only the two session calls this system consumes are implemented.
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tickerdesk.io/internal/billing"
)

const defaultBaseURL = "https://api.stripe.com"

// Client calls the processor API with a secret API key.
type Client struct {
	baseURL    string
	apiKey     string
	priceID    string
	httpClient *http.Client
}

var _ billing.SessionCreator = (*Client)(nil)

// NewClient constructs a Client. priceID selects the pro subscription price
// used for every checkout session.
func NewClient(apiKey, priceID string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		priceID: priceID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithBaseURL redirects API calls, used by tests against a local server.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}

// CreateCheckoutSession opens a subscription checkout session and returns
// its redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", c.priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", p.UserID)
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("subscription_data[metadata][user_id]", p.UserID)
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	} else if p.Email != "" {
		form.Set("customer_email", p.Email)
	}
	return c.createSession(ctx, "/v1/checkout/sessions", form)
}

// CreatePortalSession opens a billing portal session for an existing
// customer and returns its redirect URL.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	return c.createSession(ctx, "/v1/billing_portal/sessions", form)
}

func (c *Client) createSession(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call processor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("processor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if session.URL == "" {
		return "", fmt.Errorf("processor response missing session url")
	}
	return session.URL, nil
}
