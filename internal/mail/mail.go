// Package mail is the outbound transactional email capability. Callers treat
// it as fire-and-forget: a delivery failure is logged, never surfaced to the
// requesting client.
package mail

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"tickerdesk.io/internal/obs"
)

// Kind selects the message template.
type Kind string

const (
	KindPasswordReset Kind = "password_reset"
	KindWelcome       Kind = "welcome"
)

// Mailer sends one transactional message.
type Mailer interface {
	Send(ctx context.Context, kind Kind, recipient string, data map[string]string) error
}

// SMTPConfig configures the SMTP-backed mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers via SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, kind Kind, recipient string, data map[string]string) error {
	subject, body, err := render(kind, data)
	if err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s mail: %w", kind, err)
	}
	return nil
}

// render produces the plain-text subject and body for a message kind.
// Rich HTML rendering belongs to a separate template service.
func render(kind Kind, data map[string]string) (subject, body string, err error) {
	switch kind {
	case KindPasswordReset:
		url := data["reset_url"]
		if url == "" {
			return "", "", fmt.Errorf("password reset mail requires reset_url")
		}
		return "Reset your tickerdesk password",
			"A password reset was requested for your account.\n\n" +
				"Open the link below within one hour to choose a new password:\n\n" +
				url + "\n\n" +
				"If you did not request this, you can ignore this email.\n",
			nil
	case KindWelcome:
		name := data["name"]
		if name == "" {
			name = "there"
		}
		return "Welcome to tickerdesk",
			"Hi " + name + ",\n\nYour tickerdesk account is ready.\n",
			nil
	default:
		return "", "", fmt.Errorf("unknown mail kind %q", kind)
	}
}

// LogMailer records deliveries without sending. Used when SMTP is not
// configured (local development). Message data is never logged, only the
// kind and recipient.
type LogMailer struct{}

var _ Mailer = (*LogMailer)(nil)

func (LogMailer) Send(_ context.Context, kind Kind, recipient string, _ map[string]string) error {
	obs.LogEvent(map[string]any{
		"level":     "info",
		"msg":       "mail suppressed (no smtp configured)",
		"kind":      string(kind),
		"recipient": recipient,
	})
	return nil
}
