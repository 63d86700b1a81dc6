// Package config loads process configuration from the environment. Every
// value is fixed at startup; nothing here is re-read at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// SMTP carries mail delivery settings. A zero Host disables SMTP and the
// process falls back to the log-only mailer.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config is the full process configuration.
type Config struct {
	Env  string
	Addr string

	// DatabaseURL selects the networked backend when set; otherwise the
	// embedded backend at SQLitePath serves the process.
	DatabaseURL string
	SQLitePath  string

	AuthSecret    string
	WebhookSecret string

	StripeAPIKey  string
	StripePriceID string

	// AppBaseURL is the public origin embedded into reset links and
	// checkout redirect URLs.
	AppBaseURL string

	SMTP SMTP
}

// FromEnv reads and validates configuration. Missing required secrets fail
// startup rather than degrade.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:           getenv("TICKERDESK_ENV", EnvDevelopment),
		Addr:          getenv("TICKERDESK_ADDR", ":8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("TICKERDESK_DATABASE_URL")),
		SQLitePath:    getenv("TICKERDESK_SQLITE_PATH", "var/tickerdesk.db"),
		AuthSecret:    strings.TrimSpace(os.Getenv("TICKERDESK_AUTH_SECRET")),
		WebhookSecret: strings.TrimSpace(os.Getenv("TICKERDESK_WEBHOOK_SECRET")),
		StripeAPIKey:  strings.TrimSpace(os.Getenv("TICKERDESK_STRIPE_API_KEY")),
		StripePriceID: strings.TrimSpace(os.Getenv("TICKERDESK_STRIPE_PRICE_ID")),
		AppBaseURL:    getenv("TICKERDESK_APP_BASE_URL", "http://localhost:3000"),
		SMTP: SMTP{
			Host:     strings.TrimSpace(os.Getenv("TICKERDESK_SMTP_HOST")),
			Username: os.Getenv("TICKERDESK_SMTP_USERNAME"),
			Password: os.Getenv("TICKERDESK_SMTP_PASSWORD"),
			From:     getenv("TICKERDESK_SMTP_FROM", "no-reply@tickerdesk.io"),
		},
	}

	// Platform-provided PORT wins over the configured address.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Addr = ":" + port
	}

	if raw := strings.TrimSpace(os.Getenv("TICKERDESK_SMTP_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TICKERDESK_SMTP_PORT: %w", err)
		}
		cfg.SMTP.Port = port
	} else {
		cfg.SMTP.Port = 587
	}

	if cfg.AuthSecret == "" {
		return Config{}, errors.New("TICKERDESK_AUTH_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, errors.New("TICKERDESK_WEBHOOK_SECRET is required")
	}
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return Config{}, fmt.Errorf("unknown TICKERDESK_ENV %q", cfg.Env)
	}
	return cfg, nil
}

// Production reports whether error details must be withheld from responses.
func (c Config) Production() bool { return c.Env == EnvProduction }

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
