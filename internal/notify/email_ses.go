package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// sesAPI is the slice of the SESv2 client the sender actually calls.
// Production wires *sesv2.Client; tests install a fake.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

const sesCharset = "UTF-8"

// SESSender delivers escalation alerts to clinic operators through AWS
// SESv2. Urgent alerts carry priority mail headers so they surface above
// routine traffic in operator inboxes.
type SESSender struct {
	client    sesAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig identifies the verified sending address.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender builds the SES alert sender. Returns nil when no client is
// available so the fallback chain skips SES entirely.
func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	return newSESSender(client, cfg, logger)
}

func newSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Concierge"
	}
	return &SESSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send delivers one alert. At least one of Body and HTML must be set.
func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: ses sender not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("notify: ses: recipient required")
	}
	if msg.Body == "" && msg.HTML == "" {
		return fmt.Errorf("notify: ses: alert %q has no body", msg.Subject)
	}

	body := &types.Body{}
	if msg.Body != "" {
		body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String(sesCharset)}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(sesCharset)}
	}
	message := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(sesCharset)},
		Body:    body,
	}
	if msg.Urgent {
		// A possible medical urgency must not sit unnoticed in a folder.
		message.Headers = []types.MessageHeader{
			{Name: aws.String("X-Priority"), Value: aws.String("1")},
			{Name: aws.String("Importance"), Value: aws.String("high")},
		}
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		Content:          &types.EmailContent{Simple: message},
	})
	if err != nil {
		return fmt.Errorf("notify: ses send to %s: %w", msg.To, err)
	}

	s.logger.Info("escalation email sent via ses",
		"to", msg.To, "urgent", msg.Urgent, "ses_message_id", aws.ToString(out.MessageId))
	return nil
}

// formatAddress renders "Name <addr>" when a display name is known.
func formatAddress(name, email string) string {
	if strings.TrimSpace(name) == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

var _ EmailSender = (*SESSender)(nil)
