package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Escalation triggers. Medical urgency outranks complaints so the alert
// reason reflects the scarier signal when both match.
var (
	medicalUrgencyRE = regexp.MustCompile(`(?i)\b(?:emergency|bleeding|severe\s+pain|infection|allergic|can'?t\s+breathe)\b|urgencia|emergencia|sangrado|dolor\s+fuerte|infecci[óo]n|alergia|emerg[êe]ncia|sangramento|dor\s+forte|infec[çc][ãa]o|(?:^|[^\p{L}])(?:кровотечени|сильная\s+боль|инфекци|аллерги|срочно\s+врач)|דימום|כאב\s+חזק|זיהום|אלרגיה|מקרה\s+חירום`)
	complaintRE      = regexp.MustCompile(`(?i)\b(?:complaint|lawyer|lawsuit|sue|refund|botched)\b|queja|abogado|demanda|reembolso|reclama[çc][ãa]o|advogado|processo\s+judicial|(?:^|[^\p{L}])(?:жалоб|адвокат|верните\s+деньги|возврат\s+денег)|תלונה|עורך\s+דין|תביעה|החזר\s+כספי`)
	frustrationRE    = regexp.MustCompile(`(?i)\b(?:useless|not\s+helping|you\s+don'?t\s+understand|this\s+is\s+ridiculous)\b|no\s+(?:me\s+)?entiendes|no\s+sirves|in[úu]til|voc[êe]\s+n[ãa]o\s+entende|(?:^|[^\p{L}])(?:бесполезн|ты\s+не\s+понимаешь)|אתה\s+לא\s+מבין|חסר\s+תועלת`)
)

const repeatedMessageThreshold = 3

// detectEscalation decides whether the turn should go straight to a human.
// History includes the message just stored, so the repetition rule fires
// on the third identical send.
func detectEscalation(text string, history []StoredMessage) (string, bool) {
	if medicalUrgencyRE.MatchString(text) {
		return "medical_urgency", true
	}
	if complaintRE.MatchString(text) {
		return "complaint", true
	}
	if frustrationRE.MatchString(text) {
		return "frustration", true
	}

	norm := normalizeForRepeat(text)
	if norm == "" {
		return "", false
	}
	identical, seen := 0, 0
	for i := len(history) - 1; i >= 0 && seen < 6; i-- {
		if history[i].Role != ChatRoleUser {
			continue
		}
		seen++
		if normalizeForRepeat(history[i].Content) == norm {
			identical++
		}
	}
	if identical >= repeatedMessageThreshold {
		return "repeated_message", true
	}
	return "", false
}

func normalizeForRepeat(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimRight(text, ".!?…")
	return strings.Join(strings.Fields(text), " ")
}

// escalate flips the session to human control, sends the holding reply,
// and alerts the clinic's operators. Persisting the handover is the one
// thing that must not fail: without it the bot keeps answering.
func (p *Pipeline) escalate(ctx context.Context, tc *TurnContext, reason string) error {
	session := tc.Session
	session.FlowState = FlowEscalated
	session.ControlMode = ControlHuman
	session.TurnStatus = TurnEscalated

	patch := SessionPatch{
		FlowState:       &session.FlowState,
		ControlMode:     &session.ControlMode,
		TurnStatus:      &session.TurnStatus,
		SessionLanguage: &session.SessionLanguage,
		ClearPending:    tc.clearPending,
	}
	if err := p.deps.Store.UpdateSession(ctx, session.ID, patch); err != nil {
		return fmt.Errorf("persist escalation: %w", err)
	}

	lang := tc.replyLanguage()
	reply := pickTemplate(escalationHoldingTemplates, lang)
	if err := p.logMessage(ctx, session.ID, ChatRoleAssistant, reply, map[string]any{
		"escalation": true,
		"reason":     reason,
	}); err != nil {
		return err
	}
	if _, err := p.enqueueReply(ctx, tc, reply); err != nil {
		p.logger.Error("enqueue holding reply", "instance", tc.Turn.Instance, "error", err)
	}

	tc.Reply = reply
	tc.ReplySource = "escalation"
	tc.Escalated = true
	tc.SetMeta("escalation_reason", reason)

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.EscalationAlert(ctx, tc.Profile, session.ID, tc.Turn.From, reason, messagePreview(tc.Turn.Text)); err != nil {
			p.logger.Warn("escalation alert", "session_id", session.ID, "error", err)
		}
	}
	return nil
}

// messagePreview trims the message for operator alerts.
func messagePreview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= 200 {
		return string(runes)
	}
	return string(runes[:200]) + "…"
}
