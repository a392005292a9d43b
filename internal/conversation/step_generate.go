package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// langGraphStep delegates the turn to the external graph orchestrator when
// the clinic has the lane enabled. A declined or failed run degrades to
// the local generation path; the orchestrator is an accelerator, not a
// dependency.
type langGraphStep struct{ p *Pipeline }

func (s *langGraphStep) Name() string { return StepLangGraphExecution }

func (s *langGraphStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	if s.p.deps.Lanes == nil || !tc.Profile.LangGraphEnabledFor(string(tc.Lane)) {
		return true, nil
	}

	req := LaneRequest{
		Instance:  tc.Turn.Instance,
		ClinicID:  tc.ClinicID,
		SessionID: tc.Session.ID,
		UserID:    tc.Turn.From,
		Lane:      string(tc.Lane),
		Message:   tc.Turn.Text,
		Language:  tc.replyLanguage(),
		History:   historyToChat(tc.History),
		State: map[string]any{
			"flow_state":  string(tc.Session.FlowState),
			"constraints": tc.Constraints.Clone(),
		},
	}
	resp, err := s.p.deps.Lanes.Run(ctx, req)
	if err != nil {
		s.p.logger.Warn("langgraph run failed, using local generation",
			"lane", string(tc.Lane), "session_id", tc.Session.ID, "error", err)
		tc.SetMeta("langgraph_error", err.Error())
		return true, nil
	}
	if !resp.Handled || strings.TrimSpace(resp.Reply) == "" {
		return true, nil
	}
	tc.Reply = strings.TrimSpace(resp.Reply)
	tc.ReplySource = "langgraph"
	return true, nil
}

// generationStep produces the reply with the LLM, running the tool loop
// until the model answers in plain text or the per-turn budget runs out.
type generationStep struct{ p *Pipeline }

func (s *generationStep) Name() string { return StepLLMGeneration }

func (s *generationStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	if tc.Reply != "" {
		return true, nil
	}
	if s.p.deps.LLM == nil {
		return false, fmt.Errorf("no llm client configured")
	}

	messages := historyToChat(tc.History)
	if len(messages) == 0 || messages[len(messages)-1].Role != ChatRoleUser {
		messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: tc.Turn.Text})
	}
	req := LLMRequest{
		Model:       s.p.cfg.LLMModel,
		System:      buildSystemPrompt(tc, true, s.p.cfg.MaxToolCalls),
		Messages:    trimChat(messages, s.p.cfg.HistoryLimit),
		MaxTokens:   s.p.cfg.LLMMaxTokens,
		Temperature: s.p.cfg.LLMTemperature,
		TopP:        s.p.cfg.LLMTopP,
	}

	reply, err := s.generate(ctx, tc, req)
	if err == nil {
		reply = sanitizeReply(reply)
		if reply == "" {
			err = fmt.Errorf("llm returned empty reply")
		}
	}
	if err != nil {
		// With a doctor roster in hand the turn can still move the booking
		// forward; anything less falls through to the generic fallback.
		if tc.Instruction != nil && len(tc.Instruction.EligibleDoctors) > 0 {
			names := make([]string, 0, len(tc.Instruction.EligibleDoctors))
			for _, d := range tc.Instruction.EligibleDoctors {
				names = append(names, d.Name)
			}
			tc.Reply = fmt.Sprintf(pickTemplate(fallbackDoctorsTemplates, tc.replyLanguage()), strings.Join(names, ", "))
			tc.ReplySource = "roster_fallback"
			tc.SetMeta("llm_error", err.Error())
			s.p.logger.Error("llm generation failed, answering with doctor roster",
				"session_id", tc.Session.ID, "error", err)
			return true, nil
		}
		return false, fmt.Errorf("llm generation: %w", err)
	}

	tc.Reply = reply
	tc.ReplySource = "llm"

	if detected := DetectLanguage(reply); detected != tc.replyLanguage() &&
		len([]rune(reply)) >= languageInertiaThreshold {
		tc.SetMeta("reply_language_mismatch", detected)
		s.p.logger.Warn("reply language differs from session language",
			"session_id", tc.Session.ID, "expected", tc.replyLanguage(), "detected", detected)
	}
	return true, nil
}

// generate runs the completion plus tool loop. Each round trip gets its
// own timeout; the loop ends when the model stops asking for tools.
func (s *generationStep) generate(ctx context.Context, tc *TurnContext, req LLMRequest) (string, error) {
	for {
		callCtx, cancel := context.WithTimeout(ctx, s.p.cfg.LLMTimeout)
		start := time.Now()
		resp, err := s.p.deps.LLM.Complete(callCtx, req)
		elapsed := time.Since(start)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && s.p.deps.LLMMetrics != nil {
				s.p.deps.LLMMetrics.ObserveTimeout("primary")
			}
			return "", err
		}
		if s.p.deps.LLMMetrics != nil {
			s.p.deps.LLMMetrics.ObserveCall(resp.Provider, resp.Model, elapsed.Seconds(),
				int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
		}
		tc.SetMeta("llm_provider", resp.Provider)
		tc.SetMeta("llm_model", resp.Model)

		name, args, rest, ok := parseToolCall(resp.Text)
		if !ok {
			return resp.Text, nil
		}
		tc.toolCalls++
		if tc.toolCalls > s.p.cfg.MaxToolCalls {
			s.p.logger.Warn("tool call budget exhausted",
				"session_id", tc.Session.ID, "tool", name)
			if rest != "" {
				return rest, nil
			}
			return "", fmt.Errorf("tool budget exhausted with no answer")
		}

		result := s.p.executeTool(ctx, tc, name, args)
		tc.SetMeta("tool_calls", tc.toolCalls)
		req.Messages = append(req.Messages,
			ChatMessage{Role: ChatRoleAssistant, Content: resp.Text},
			ChatMessage{Role: ChatRoleUser, Content: "TOOL RESULT: " + result},
		)
	}
}

// historyToChat converts the stored transcript to model messages. Only
// user and assistant turns are model-visible.
func historyToChat(history []StoredMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case ChatRoleUser, ChatRoleAssistant:
			out = append(out, ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}

// trimChat caps the window at limit messages and drops leading assistant
// turns so the transcript always opens with the user.
func trimChat(messages []ChatMessage, limit int) []ChatMessage {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	for len(messages) > 0 && messages[0].Role != ChatRoleUser {
		messages = messages[1:]
	}
	return messages
}

var (
	reasoningTagRE    = regexp.MustCompile(`(?s)<(?:thinking|reasoning|reflection|scratchpad)>.*?</(?:thinking|reasoning|reflection|scratchpad)>`)
	assistantPrefixRE = regexp.MustCompile(`(?i)^\s*(?:assistant|ai|bot)\s*:\s*`)
	blankRunsRE       = regexp.MustCompile(`\n{3,}`)
)

const maxReplyRunes = 3500

// sanitizeReply strips model scaffolding the patient must never see:
// reasoning tags, role prefixes, leaked tool lines, and runaway length.
func sanitizeReply(text string) string {
	text = reasoningTagRE.ReplaceAllString(text, "")
	text = toolLineRE.ReplaceAllString(text, "")
	text = assistantPrefixRE.ReplaceAllString(text, "")
	text = blankRunsRE.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > maxReplyRunes {
		text = strings.TrimSpace(string(runes[:maxReplyRunes])) + "…"
	}
	return text
}

// postProcessStep finishes the turn: appends the constraint echo, records
// the reply, advances the session, upserts the patient record, schedules
// any promised follow-up, feeds long-term memory, and queues delivery.
type postProcessStep struct{ p *Pipeline }

func (s *postProcessStep) Name() string { return StepPostProcessing }

func (s *postProcessStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	session := tc.Session
	lang := tc.replyLanguage()
	reply := tc.Reply

	if tc.ConstraintsChanged {
		if echo := stateEcho(lang, tc.constraintSummary()); echo != "" && !strings.Contains(reply, echo) {
			reply += "\n\n" + echo
			tc.Reply = reply
		}
	}

	meta := map[string]any{
		"source":   tc.ReplySource,
		"language": lang,
	}
	if provider, ok := tc.Metadata["llm_provider"]; ok {
		meta["provider"] = provider
		meta["model"] = tc.Metadata["llm_model"]
	}
	if tc.toolCalls > 0 {
		meta["tool_calls"] = tc.toolCalls
	}
	if err := s.p.logMessage(ctx, session.ID, ChatRoleAssistant, reply, meta); err != nil {
		return false, err
	}

	session.FlowState = nextFlowState(tc)
	session.TurnStatus = TurnAgent

	patch := SessionPatch{
		FlowState:       &session.FlowState,
		TurnStatus:      &session.TurnStatus,
		SessionLanguage: &session.SessionLanguage,
		ClearPending:    tc.clearPending,
	}
	if plan, ok := analyzeFollowup(reply, tc.Now); ok {
		session.TurnStatus = TurnAgentActionPending
		session.PendingAction = plan.Action
		session.PendingSince = &tc.Now
		session.FollowupAt = &plan.At
		patch.TurnStatus = &session.TurnStatus
		patch.PendingAction = &plan.Action
		patch.PendingSince = &tc.Now
		patch.FollowupAt = &plan.At
		patch.ClearPending = false
		tc.SetMeta("pending_action", plan.Action)
	}
	if err := s.p.deps.Store.UpdateSession(ctx, session.ID, patch); err != nil {
		return false, fmt.Errorf("persist session: %w", err)
	}

	// Tools may have moved the constraints after the enforcement step's
	// write; persist the final shape.
	if tc.ConstraintsChanged {
		if err := s.p.deps.Store.UpdateConstraints(ctx, session.ID, tc.Constraints); err != nil {
			s.p.logger.Warn("persist post-turn constraints", "session_id", session.ID, "error", err)
		}
	}

	s.upsertPatient(ctx, tc, lang)

	if s.p.deps.Memory != nil {
		s.p.deps.Memory.RecordTurn(session.ID, tc.Turn.From, tc.ClinicID, tc.Turn.Text, reply)
	}

	if _, err := s.p.enqueueReply(ctx, tc, reply); err != nil {
		return false, fmt.Errorf("enqueue reply: %w", err)
	}
	return true, nil
}

func (s *postProcessStep) upsertPatient(ctx context.Context, tc *TurnContext, lang string) {
	if tc.Patient != nil && tc.Patient.PreferredLanguage == lang {
		return
	}
	patient := Patient{ClinicID: tc.ClinicID, Phone: tc.Turn.From, PreferredLanguage: lang}
	if tc.Patient != nil {
		patient = *tc.Patient
		patient.PreferredLanguage = lang
	}
	if err := s.p.deps.Store.UpsertPatient(ctx, patient); err != nil {
		s.p.logger.Warn("upsert patient", "clinic_id", tc.ClinicID, "error", err)
	}
}

// nextFlowState advances the session's coarse state machine from what the
// turn established. Terminal and human-held states never regress here.
func nextFlowState(tc *TurnContext) FlowState {
	current := tc.Session.FlowState
	if current.Terminal() || current == FlowEscalated {
		return current
	}

	if tc.Lane == LaneScheduling || !tc.Constraints.Empty() {
		switch {
		case tc.toolCalls > 0:
			return FlowPresentingSlots
		case tc.Constraints.HasService() && tc.Constraints.HasTimeWindow():
			return FlowAwaitingConfirmation
		default:
			return FlowCollectingSlots
		}
	}

	if fastPathSafeStates[current] {
		return FlowInfoSeeking
	}
	return current
}
