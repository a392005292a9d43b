package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// EmailSender sends operator emails. Implementations can be swapped
// (SES, SendGrid, SMTP) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text
	HTML    string // optional HTML alternative
	Urgent  bool   // priority headers where the transport supports them
}

// FallbackSender tries the primary sender and falls back to the secondary
// when the primary fails. Either slot may be nil.
type FallbackSender struct {
	primary   EmailSender
	secondary EmailSender
	logger    *logging.Logger
}

// NewFallbackSender chains two senders. Returns nil when both are nil so
// callers can treat the result as "email disabled".
func NewFallbackSender(primary, secondary EmailSender, logger *logging.Logger) *FallbackSender {
	if primary == nil && secondary == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackSender{primary: primary, secondary: secondary, logger: logger}
}

// Send delivers through the primary, then the secondary.
func (f *FallbackSender) Send(ctx context.Context, msg EmailMessage) error {
	if f.primary != nil {
		err := f.primary.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if f.secondary == nil {
			return err
		}
		f.logger.Warn("notify: primary email sender failed, trying fallback", "to", msg.To, "error", err)
	}
	if f.secondary == nil {
		return fmt.Errorf("notify: no email sender configured")
	}
	return f.secondary.Send(ctx, msg)
}

// SendGridSender sends emails via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a SendGrid email sender. Returns nil when no
// API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Concierge"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	var message *mail.SGMailV3
	if msg.HTML != "" {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.HTML)
	} else {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

var (
	_ EmailSender = (*FallbackSender)(nil)
	_ EmailSender = (*SendGridSender)(nil)
)
