// Package mailer delivers OTP emails. Senders are built once at startup and
// injected into the OTP service.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// SMTPSender sends OTP emails through an SMTP relay.
type SMTPSender struct {
	client   *mail.Client
	from     string
	fromName string
	expiry   time.Duration
	logger   *logrus.Logger
}

func NewSMTPSender(cfg *config.MailConfig, expiry time.Duration, logger *logrus.Logger) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	// Relays such as MailHog accept mail without authentication.
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &SMTPSender{
		client:   client,
		from:     cfg.From,
		fromName: cfg.FromName,
		expiry:   expiry,
		logger:   logger,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, code string, purpose models.Purpose) error {
	rendered, err := Render(code, purpose, s.expiry)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"purpose": purpose,
	}).Debug("OTP email sent")

	return nil
}

// LogSender writes the email to the log instead of sending it. Development
// only: the code ends up in the log.
type LogSender struct {
	expiry time.Duration
	logger *logrus.Logger
}

func NewLogSender(expiry time.Duration, logger *logrus.Logger) *LogSender {
	return &LogSender{expiry: expiry, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, code string, purpose models.Purpose) error {
	rendered, err := Render(code, purpose, s.expiry)
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": rendered.Subject,
		"purpose": purpose,
		"otp":     code,
	}).Info("OTP email (log driver)")

	return nil
}
