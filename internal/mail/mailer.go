// Package mail delivers the transactional emails of the service: verification
// codes, the welcome message and password reset links.
package mail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// ErrNoRelay is returned by New in production when SMTP_HOST is unset.
var ErrNoRelay = errors.New("SMTP_HOST must be set in production")

type Config struct {
	Host        string `env:"SMTP_HOST"`
	Port        int    `env:"SMTP_PORT" envDefault:"587"`
	User        string `env:"SMTP_USER"`
	Pass        string `env:"SMTP_PASS"`
	From        string `env:"SMTP_FROM" envDefault:"\"Sistema de Cadastro\" <noreply@cadastro.com>"`
	ImplicitTLS bool   `env:"SMTP_TLS"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	Environment string `env:"APP_ENV" envDefault:"development"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := utilities.ParseEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("mail config: %w", err)
	}
	return cfg, nil
}

type Mailer interface {
	SendVerificationCode(ctx context.Context, to, name, code string) error
	SendWelcome(ctx context.Context, to, name string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// New returns an SMTP mailer, or a LogMailer when no SMTP host is
// configured. The LogMailer writes codes and reset tokens to the log, so it
// is refused in production.
func New(cfg Config, logger *zap.SugaredLogger) (Mailer, error) {
	if cfg.Host == "" {
		if cfg.Environment == "production" {
			return nil, ErrNoRelay
		}
		logger.Warn("SMTP_HOST not set; emails will only be logged")
		m := NewLogMailer(logger)
		if cfg.FrontendURL != "" {
			m.FrontendURL = cfg.FrontendURL
		}
		return m, nil
	}
	return NewSMTPMailer(cfg), nil
}

// LogMailer renders messages and logs them instead of sending. Useful in
// development where codes must still be readable.
type LogMailer struct {
	logger *zap.SugaredLogger
	// FrontendURL prefixes reset links.
	FrontendURL string
}

func NewLogMailer(logger *zap.SugaredLogger) *LogMailer {
	return &LogMailer{logger: logger, FrontendURL: "http://localhost:3000"}
}

func (m *LogMailer) SendVerificationCode(ctx context.Context, to, name, code string) error {
	msg, err := verificationCodeMessage(to, name, code)
	if err != nil {
		return err
	}
	m.logger.Infow("email not sent (log mailer)", "to", msg.To, "subject", msg.Subject, "code", code)
	return nil
}

func (m *LogMailer) SendWelcome(ctx context.Context, to, name string) error {
	msg, err := welcomeMessage(to, name)
	if err != nil {
		return err
	}
	m.logger.Infow("email not sent (log mailer)", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	msg, err := passwordResetMessage(m.FrontendURL, to, name, token)
	if err != nil {
		return err
	}
	m.logger.Infow("email not sent (log mailer)", "to", msg.To, "subject", msg.Subject)
	return nil
}
