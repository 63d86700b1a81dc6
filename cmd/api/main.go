package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tickerdesk.io/internal/auth"
	"tickerdesk.io/internal/billing"
	"tickerdesk.io/internal/billing/stripeclient"
	"tickerdesk.io/internal/config"
	"tickerdesk.io/internal/httpapi"
	"tickerdesk.io/internal/mail"
	"tickerdesk.io/internal/migrate"
	"tickerdesk.io/internal/obs"
	"tickerdesk.io/internal/reset"
	"tickerdesk.io/internal/store"
	"tickerdesk.io/internal/store/lite"
	"tickerdesk.io/internal/store/pg"
	"tickerdesk.io/internal/user"
)

var version = "0.3.1"

func main() {
	// .env is a local development convenience; production sets env vars
	// directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run owns the process lifecycle; returning instead of exiting lets the
// deferred store close fire on startup failures too.
func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("TICKERDESK_COMMIT"))

	// The backend is selected once here and lives for the process
	// lifetime. An unreachable store is fatal: the process must not serve
	// traffic it cannot persist.
	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	var db store.DB
	if cfg.DatabaseURL != "" {
		db, err = pg.Open(openCtx, cfg.DatabaseURL)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); mkErr != nil {
			cancel()
			return fmt.Errorf("create data dir: %w", mkErr)
		}
		db, err = lite.Open(openCtx, cfg.SQLitePath)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	log.Printf("store ready (%s backend)", db.Dialect())

	if err := migrate.NewManager(db, migrate.All()).Up(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var mailer mail.Mailer
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		mailer = mail.LogMailer{}
	}

	users := user.NewStore(db)
	resets := reset.NewManager(db, users, mailer, cfg.AppBaseURL)
	reconciler := billing.NewReconciler(users, cfg.WebhookSecret)

	var sessions billing.SessionCreator
	if cfg.StripeAPIKey != "" {
		sessions = stripeclient.NewClient(cfg.StripeAPIKey, cfg.StripePriceID)
	}

	api := httpapi.New(httpapi.Options{
		Users:      users,
		Tokens:     tokens,
		Resets:     resets,
		Reconciler: reconciler,
		Sessions:   sessions,
		DB:         db,
		AppBaseURL: cfg.AppBaseURL,
		Version:    version,
		Production: cfg.Production(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tickerdesk-api %s on %s", version, srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-stop:
	}
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("Stopped")
	return nil
}
