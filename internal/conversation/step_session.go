package conversation

import (
	"context"
	"fmt"
	"strings"
)

// sessionStep resolves the tenant, opens (or finds) the session, takes the
// per-conversation lock, detects the turn language, and records the inbound
// message. When a human has taken over, message recording is deferred to
// the gate step so it can be tagged for review.
type sessionStep struct{ p *Pipeline }

func (s *sessionStep) Name() string { return StepSessionManagement }

func (s *sessionStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	turn := tc.Turn
	if strings.TrimSpace(turn.Text) == "" {
		tc.SkipEgress = true
		tc.SetMeta("dropped", "empty_text")
		return false, nil
	}

	clinicID, err := s.p.deps.Resolver.ClinicIDForInstance(ctx, turn.Instance)
	if err != nil {
		return false, fmt.Errorf("resolve clinic for instance %q: %w", turn.Instance, err)
	}
	tc.ClinicID = clinicID

	profile, err := s.p.deps.Profiles.Get(ctx, clinicID)
	if err != nil {
		return false, fmt.Errorf("load clinic profile: %w", err)
	}
	tc.Profile = profile

	// Lock on the natural key, not the session id, so two racing first
	// messages serialize through session creation as well.
	if s.p.deps.Locker != nil {
		release, lockErr := s.p.deps.Locker.LockSession(ctx, sessionLockKey(turn.From, clinicID, ChannelWhatsApp))
		if lockErr != nil {
			s.p.logger.Warn("session lock unavailable, proceeding unlocked",
				"clinic_id", clinicID, "error", lockErr)
		} else {
			tc.unlock = release
		}
	}

	session, created, err := s.p.deps.Store.GetOrCreateSession(ctx, turn.From, clinicID, ChannelWhatsApp)
	if err != nil {
		return false, fmt.Errorf("get or create session: %w", err)
	}
	tc.Session = session
	tc.SessionCreated = created

	previous := session.SessionLanguage
	if previous == "" {
		previous = normalizeLanguage(profile.DefaultLanguage)
	}
	tc.Language = DetectLanguageWithInertia(turn.Text, previous)
	session.SessionLanguage = tc.Language

	session.TurnStatus = TurnUser
	if session.PendingAction != "" || session.FollowupAt != nil {
		// The user came back on their own; the scheduled nudge is moot.
		tc.clearPending = true
	}

	if !session.ControlMode.BotSilent() {
		if err := s.p.logMessage(ctx, session.ID, ChatRoleUser, turn.Text, inboundMessageMeta(tc, nil)); err != nil {
			return false, err
		}
	}
	return true, nil
}

func sessionLockKey(userID, clinicID, channel string) string {
	return strings.ToLower(strings.TrimSpace(userID)) + "|" + clinicID + "|" + channel
}

func inboundMessageMeta(tc *TurnContext, extra map[string]any) map[string]any {
	meta := map[string]any{
		"job_id":   tc.Turn.JobID,
		"language": tc.Language,
	}
	if tc.Turn.ProviderMessageID != "" {
		meta["provider_message_id"] = tc.Turn.ProviderMessageID
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// controlGateStep stops the bot from talking over a human operator. The
// inbound message is still recorded (flagged for review) and the unread
// counter bumped so the dashboard surfaces it; no reply is produced.
type controlGateStep struct{ p *Pipeline }

func (s *controlGateStep) Name() string { return StepControlModeGate }

func (s *controlGateStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	session := tc.Session
	if session == nil || !session.ControlMode.BotSilent() {
		return true, nil
	}

	meta := inboundMessageMeta(tc, map[string]any{"pending_human_review": true})
	if err := s.p.logMessage(ctx, session.ID, ChatRoleUser, tc.Turn.Text, meta); err != nil {
		return false, err
	}
	count, err := s.p.deps.Store.IncrementUnread(ctx, session.ID)
	if err != nil {
		s.p.logger.Warn("increment unread counter", "session_id", session.ID, "error", err)
	} else {
		tc.SetMeta("unread_for_human", count)
	}

	tc.SkipEgress = true
	tc.SetMeta("control_mode", string(session.ControlMode))
	tc.SetMeta("pending_human_review", true)
	return false, nil
}
