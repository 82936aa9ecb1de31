package notify

import (
	"context"
	"crypto/tls"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/rendis/triage/pkg/schema"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Pass          string
	From          string // e.g. "Triage <no-reply@example.org>"
	SkipTLSVerify bool
	Timeout       time.Duration
}

// SMTPMailer sends mail over SMTP with mandatory STARTTLS.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

// NewSMTPMailer validates cfg and prepares a dialer. Port defaults to 587.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}

	return &SMTPMailer{cfg: cfg, dialer: d}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(m.message(to, subject, htmlBody)); err != nil {
		return schema.NewErrorf(schema.ErrCodeEmailFailed, "send to %s: %s", to, err.Error()).WithCause(err)
	}
	return nil
}

func (m *SMTPMailer) message(to, subject, htmlBody string) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	return msg
}
