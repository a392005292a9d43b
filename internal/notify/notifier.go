// Package notify fans escalation alerts out to a clinic's operators:
// a WhatsApp message per operator phone through the egress queue, plus
// optional email. Alert delivery is best-effort; the conversation
// pipeline logs failures but never blocks a patient turn on them.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightline-ai/concierge/internal/clinic"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Outbound enqueues operator alerts onto the per-instance egress stream.
// *whatsapp.Enqueuer satisfies it.
type Outbound interface {
	Enqueue(ctx context.Context, instance string, msg whatsapp.OutboundMessage) (bool, error)
}

// Service delivers escalation alerts to clinic operators.
type Service struct {
	outbound Outbound
	email    EmailSender
	logger   *logging.Logger
}

// NewService creates an operator notifier. Either channel may be nil;
// alerts simply skip the missing one.
func NewService(outbound Outbound, email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		outbound: outbound,
		email:    email,
		logger:   logger,
	}
}

// reasonLabels maps pipeline escalation reasons to operator-facing phrasing.
var reasonLabels = map[string]string{
	"medical_urgency":      "possible medical urgency",
	"complaint":            "complaint or legal threat",
	"frustration":          "patient frustration",
	"repeated_message":     "patient repeating the same message",
	"user_requested_human": "patient asked for a human",
}

// EscalationAlert notifies every configured operator that a session was
// handed to a human. One egress enqueue per operator phone; email goes out
// when the clinic enables it. Failures accumulate into a single error so
// one unreachable recipient never silences the rest.
func (s *Service) EscalationAlert(ctx context.Context, profile *clinic.Profile, sessionID, userID, reason, preview string) error {
	if profile == nil {
		s.logger.Warn("notify: escalation alert without clinic profile", "session_id", sessionID)
		return nil
	}

	label := reasonLabels[reason]
	if label == "" {
		label = reason
	}

	var failed int

	phones := profile.Notifications.OperatorPhones
	if len(phones) > 0 {
		if strings.TrimSpace(profile.InstanceName) == "" {
			s.logger.Warn("notify: clinic has operator phones but no instance", "clinic_id", profile.ClinicID)
		} else {
			text := alertText(profile.Name, userID, label, preview)
			for _, phone := range phones {
				msg := whatsapp.OutboundMessage{
					To:   phone,
					Text: text,
					Metadata: map[string]string{
						"kind":       "escalation_alert",
						"session_id": sessionID,
						"clinic_id":  profile.ClinicID,
					},
				}
				if _, err := s.outbound.Enqueue(ctx, profile.InstanceName, msg); err != nil {
					s.logger.Error("notify: operator alert enqueue failed", "to", phone, "clinic_id", profile.ClinicID, "error", err)
					failed++
					continue
				}
				s.logger.Info("notify: operator alerted", "to", phone, "session_id", sessionID, "reason", reason)
			}
		}
	}

	if profile.Notifications.EmailAlerts && s.email != nil && len(profile.Notifications.EscalationEmails) > 0 {
		subject := fmt.Sprintf("🚨 Escalation — %s", profile.Name)
		body := fmt.Sprintf(`A conversation needs a human.

Clinic: %s
Patient: %s
Reason: %s
Last message: %q
Session: %s

Reply to the patient from your WhatsApp line; the assistant stays quiet until the session is released.`,
			profile.Name, userID, label, preview, sessionID)

		html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #ef4444;">🚨 Conversation escalated</h2>
<table style="border-collapse: collapse; margin: 16px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Clinic:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Patient:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><a href="tel:%s">%s</a></td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Reason:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Last message:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
</table>
<p style="background: #fef2f2; padding: 12px; border-radius: 8px; border-left: 4px solid #ef4444;">
  The assistant is on hold for this patient until a team member releases the session.
</p>
</div>`, profile.Name, userID, userID, label, preview)

		for _, recipient := range profile.Notifications.EscalationEmails {
			msg := EmailMessage{
				To:      recipient,
				Subject: subject,
				Body:    body,
				HTML:    html,
				Urgent:  reason == "medical_urgency",
			}
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("notify: escalation email failed", "to", recipient, "clinic_id", profile.ClinicID, "error", err)
				failed++
				continue
			}
			s.logger.Info("notify: escalation email sent", "to", recipient, "session_id", sessionID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("notify: %d escalation alert(s) failed", failed)
	}
	return nil
}

func alertText(clinicName, userID, label, preview string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s: patient %s needs a human (%s).", clinicName, userID, label)
	if preview != "" {
		fmt.Fprintf(&b, " Last message: %q.", preview)
	}
	b.WriteString(" The assistant is on hold until you release the session.")
	return b.String()
}
