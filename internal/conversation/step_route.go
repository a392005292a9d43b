package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightline-ai/concierge/internal/clinic"
	"github.com/brightline-ai/concierge/internal/constraints"
	"github.com/brightline-ai/concierge/internal/narrowing"
)

// routingStep classifies the turn and serves the deterministic fast paths:
// canned greeting, human handoff, the which-day question, and catalog
// price answers. Fast paths store and send their reply themselves; the
// rest of the pipeline never runs for them.
type routingStep struct{ p *Pipeline }

func (s *routingStep) Name() string { return StepRouting }

// States from which a fast path may answer without trampling an ongoing
// booking exchange.
var fastPathSafeStates = map[FlowState]bool{
	FlowIdle:        true,
	FlowGreeting:    true,
	FlowInfoSeeking: true,
}

func (s *routingStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	text := tc.Turn.Text
	tc.Intent = DetectIntent(text)
	_, mentionsService := tc.Profile.FindService(text)
	hasConstraints := tc.Constraints != nil && !tc.Constraints.Empty()
	tc.Lane = laneForTurn(tc.Intent, mentionsService, hasConstraints, text)
	tc.SetMeta("intent", string(tc.Intent))
	tc.SetMeta("lane", string(tc.Lane))

	if !s.p.cfg.FastPathEnabled {
		return true, nil
	}

	flow := tc.Session.FlowState
	lang := tc.replyLanguage()
	switch tc.Intent {
	case IntentGreeting:
		if !hasConstraints && (tc.SessionCreated || fastPathSafeStates[flow]) {
			reply := fmt.Sprintf(pickTemplate(greetingTemplates, lang), tc.Profile.Name)
			return false, s.p.completeFastPath(ctx, tc, reply, FlowGreeting)
		}
	case IntentHandoffHuman:
		if err := s.p.escalate(ctx, tc, "user_requested_human"); err != nil {
			return false, err
		}
		return false, nil
	case IntentConfirmTime:
		// "That works" with nothing on the table yet: ask for the day
		// instead of burning an LLM call on a contentless confirmation.
		if !tc.Constraints.HasTimeWindow() && (fastPathSafeStates[flow] || flow == FlowCollectingSlots) {
			reply := pickTemplate(whichDayTemplates, lang)
			return false, s.p.completeFastPath(ctx, tc, reply, FlowCollectingSlots)
		}
	case IntentPriceQuery:
		if reply, ok := priceReply(lang, tc.Profile, text); ok {
			return false, s.p.completeFastPath(ctx, tc, reply, FlowInfoSeeking)
		}
	}
	return true, nil
}

// priceReply answers a price question straight from the catalog. When the
// message names a specific service only that line is returned; otherwise
// the full price list. False means the catalog has no prices and the LLM
// should answer instead.
func priceReply(lang string, profile *clinic.Profile, text string) (string, bool) {
	if profile == nil {
		return "", false
	}
	if svc, ok := profile.FindService(text); ok && svc.PriceText != "" {
		return pickTemplate(priceHeaderTemplates, lang) + "\n• " + svc.Name + ": " + svc.PriceText +
			"\n" + pickTemplate(priceFooterTemplates, lang), true
	}
	var lines []string
	for _, svc := range profile.Services {
		if svc.PriceText != "" {
			lines = append(lines, "• "+svc.Name+": "+svc.PriceText)
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return pickTemplate(priceHeaderTemplates, lang) + "\n" + strings.Join(lines, "\n") +
		"\n" + pickTemplate(priceFooterTemplates, lang), true
}

// completeFastPath finishes a turn answered without the LLM: the reply is
// recorded, the session advanced, and the message queued for delivery.
func (p *Pipeline) completeFastPath(ctx context.Context, tc *TurnContext, reply string, proposed FlowState) error {
	session := tc.Session
	if fastPathSafeStates[session.FlowState] || proposed == FlowCollectingSlots {
		session.FlowState = proposed
	}
	session.TurnStatus = TurnAgent
	tc.Reply = reply
	tc.ReplySource = "fast_path"
	tc.SetMeta("fast_path", true)

	if err := p.logMessage(ctx, session.ID, ChatRoleAssistant, reply, map[string]any{
		"fast_path": true,
		"intent":    string(tc.Intent),
	}); err != nil {
		return err
	}
	patch := SessionPatch{
		FlowState:       &session.FlowState,
		TurnStatus:      &session.TurnStatus,
		SessionLanguage: &session.SessionLanguage,
		ClearPending:    tc.clearPending,
	}
	if err := p.deps.Store.UpdateSession(ctx, session.ID, patch); err != nil {
		return fmt.Errorf("persist fast-path session: %w", err)
	}
	if _, err := p.enqueueReply(ctx, tc, reply); err != nil {
		return fmt.Errorf("enqueue fast-path reply: %w", err)
	}
	return nil
}

// constraintStep keeps the booking constraints in lockstep with what the
// user just said: meta-resets wipe the slate (and answer deterministically),
// exclusions, switches, time windows, and catalog mentions accumulate.
type constraintStep struct{ p *Pipeline }

func (s *constraintStep) Name() string { return StepConstraintEnforcement }

func (s *constraintStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	text := tc.Turn.Text
	loc := tc.Profile.Location()

	if constraints.IsMetaReset(text) {
		tc.Constraints.Clear()
		if err := s.p.deps.Store.UpdateConstraints(ctx, tc.Session.ID, tc.Constraints); err != nil {
			return false, fmt.Errorf("persist constraint reset: %w", err)
		}
		tc.ConstraintsChanged = true
		tc.SetMeta("meta_reset", true)
		// A reset abandons whatever flow was in progress.
		tc.Session.FlowState = FlowIdle
		reply := constraints.ResetConfirmation(tc.replyLanguage())
		if err := s.p.completeFastPath(ctx, tc, reply, FlowIdle); err != nil {
			return false, err
		}
		tc.ReplySource = "meta_reset"
		return false, nil
	}

	changed := tc.Constraints.Apply(constraints.Extract(text, tc.Now.In(loc), loc))

	if svc, ok := tc.Profile.FindService(text); ok {
		if tc.Constraints.SetDesiredService(svc.Name) {
			tc.Constraints.DesiredServiceID = svc.ID
			changed = true
		} else if strings.EqualFold(tc.Constraints.DesiredService, svc.Name) && tc.Constraints.DesiredServiceID == "" {
			tc.Constraints.DesiredServiceID = svc.ID
			changed = true
		}
	}
	if doc, ok := mentionedDoctor(tc.Profile, text); ok && !excludedName(tc.Constraints.ExcludedDoctors, doc.Name) {
		if tc.Constraints.SetDesiredDoctor(doc.Name) {
			tc.Constraints.DesiredDoctorID = doc.ID
			changed = true
		} else if strings.EqualFold(tc.Constraints.DesiredDoctor, doc.Name) && tc.Constraints.DesiredDoctorID == "" {
			tc.Constraints.DesiredDoctorID = doc.ID
			changed = true
		}
	}

	if changed {
		if err := s.p.deps.Store.UpdateConstraints(ctx, tc.Session.ID, tc.Constraints); err != nil {
			return false, fmt.Errorf("persist constraints: %w", err)
		}
		tc.ConstraintsChanged = true
	}
	return true, nil
}

// mentionedDoctor finds a roster doctor named in the message. The full
// name matches as a substring; a bare surname needs at least four letters
// to avoid false hits on short names inside other words.
func mentionedDoctor(profile *clinic.Profile, text string) (clinic.Doctor, bool) {
	lowered := strings.ToLower(text)
	for _, d := range profile.Doctors {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name == "" {
			continue
		}
		if strings.Contains(lowered, name) {
			return d, true
		}
		parts := strings.Fields(name)
		if len(parts) > 1 {
			last := parts[len(parts)-1]
			if len([]rune(last)) >= 4 && strings.Contains(lowered, last) {
				return d, true
			}
		}
	}
	return clinic.Doctor{}, false
}

func excludedName(excluded []string, name string) bool {
	for _, e := range excluded {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}

// narrowingStep runs the deterministic doctor-narrowing funnel and pins
// its instruction to the turn for the prompt composer.
type narrowingStep struct{ p *Pipeline }

func (s *narrowingStep) Name() string { return StepNarrowing }

func (s *narrowingStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	if s.p.deps.Narrower == nil {
		return true, nil
	}
	bookingIntent := tc.Lane == LaneScheduling || !tc.Constraints.Empty()
	inst := s.p.deps.Narrower.Decide(ctx, narrowing.Request{
		ClinicID:      tc.ClinicID,
		Message:       tc.Turn.Text,
		Constraints:   tc.Constraints.Clone(),
		Strategy:      tc.Profile.Strategy(),
		BookingIntent: bookingIntent,
	})
	tc.Instruction = &inst
	tc.SetMeta("narrowing_action", string(inst.Action))
	tc.SetMeta("narrowing_case", string(inst.Case))
	return true, nil
}
