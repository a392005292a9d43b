package conversation

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "See you Thursday at 10!", "See you Thursday at 10!"},
		{"thinking tags stripped", "<thinking>user wants price</thinking>Botox is $350.", "Botox is $350."},
		{"multiline reasoning stripped", "<reasoning>\nstep one\nstep two\n</reasoning>\n\nSure thing.", "Sure thing."},
		{"scratchpad stripped", "<scratchpad>notes</scratchpad>Happy to help!", "Happy to help!"},
		{"leaked tool line stripped", "Here you go.\nTOOL: check_availability {\"date\": \"tomorrow\"}\nAnything else?", "Here you go.\n\nAnything else?"},
		{"assistant prefix stripped", "Assistant: Your appointment is at 3pm.", "Your appointment is at 3pm."},
		{"ai prefix stripped", "AI:  of course!", "of course!"},
		{"blank runs collapsed", "First.\n\n\n\n\nSecond.", "First.\n\nSecond."},
		{"prefix after tags", "Bot: <scratchpad>x</scratchpad>hello", "hello"},
		{"whitespace trimmed", "  \n  fine by me  \n ", "fine by me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeReply(tt.in); got != tt.want {
				t.Fatalf("sanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeReplyCapsLength(t *testing.T) {
	got := sanitizeReply(strings.Repeat("д", maxReplyRunes+500))
	runes := []rune(got)
	if len(runes) != maxReplyRunes+1 {
		t.Fatalf("expected %d runes, got %d", maxReplyRunes+1, len(runes))
	}
	if last, _ := utf8.DecodeLastRuneInString(got); last != '…' {
		t.Fatalf("expected ellipsis terminator, got %q", last)
	}
}

func TestTrimChat(t *testing.T) {
	msgs := []ChatMessage{
		{Role: ChatRoleUser, Content: "u1"},
		{Role: ChatRoleAssistant, Content: "a1"},
		{Role: ChatRoleUser, Content: "u2"},
		{Role: ChatRoleAssistant, Content: "a2"},
		{Role: ChatRoleUser, Content: "u3"},
		{Role: ChatRoleAssistant, Content: "a3"},
	}

	got := trimChat(msgs, 4)
	if len(got) != 4 || got[0].Content != "u2" {
		t.Fatalf("limit 4: got %v", got)
	}

	// A cap landing on an assistant turn drops it so the window still
	// opens with the user.
	got = trimChat(msgs, 3)
	if len(got) != 2 || got[0].Content != "u3" {
		t.Fatalf("limit 3: got %v", got)
	}

	got = trimChat([]ChatMessage{{Role: ChatRoleAssistant, Content: "a"}}, 0)
	if len(got) != 0 {
		t.Fatalf("assistant-only: got %v", got)
	}

	got = trimChat(msgs, 0)
	if len(got) != 6 {
		t.Fatalf("zero limit should keep everything, got %d", len(got))
	}
}

func TestHistoryToChat(t *testing.T) {
	history := []StoredMessage{
		{Role: ChatRoleUser, Content: "hi"},
		{Role: ChatRoleAssistant, Content: "hello!"},
		{Role: ChatRoleSystem, Content: "escalated"},
		{Role: ChatRoleUser, Content: "thanks"},
	}

	got := historyToChat(history)
	if len(got) != 3 {
		t.Fatalf("expected 3 model-visible messages, got %d", len(got))
	}
	if got[0].Content != "hi" || got[1].Content != "hello!" || got[2].Content != "thanks" {
		t.Fatalf("unexpected conversion: %v", got)
	}
}

func TestGenerateToolBudgetReturnsTrailingText(t *testing.T) {
	f := newFixture(func(d *Deps, cfg *Config) {
		cfg.MaxToolCalls = 1
		f0 := d.LLM.(*scriptedLLM)
		f0.texts = []string{
			`TOOL: remember_preference {"kind": "doctor", "value": "Dr. Ana Ruiz"}`,
			"TOOL: check_availability\nLet me get back to you on the exact slot.",
		}
	})
	tc := toolTurnContext(f, "book me with Ana")
	tc.Session = &Session{ID: "sess-1"}

	gen := &generationStep{f.pipe}
	reply, err := gen.generate(context.Background(), tc, LLMRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "book me with Ana"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "Let me get back to you on the exact slot." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(f.llm.reqs) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(f.llm.reqs))
	}
}

func TestGenerateToolBudgetWithoutAnswerFails(t *testing.T) {
	f := newFixture(func(d *Deps, cfg *Config) {
		cfg.MaxToolCalls = 1
		d.LLM.(*scriptedLLM).texts = []string{"TOOL: check_availability"}
	})
	tc := toolTurnContext(f, "any slots?")
	tc.Session = &Session{ID: "sess-1"}

	gen := &generationStep{f.pipe}
	_, err := gen.generate(context.Background(), tc, LLMRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "any slots?"}},
	})
	if err == nil || !strings.Contains(err.Error(), "tool budget exhausted") {
		t.Fatalf("expected budget error, got %v", err)
	}
}

func TestPipelineEmptyLLMReplyFallsBack(t *testing.T) {
	f := newFixture(func(d *Deps, _ *Config) {
		d.LLM.(*scriptedLLM).texts = []string{"<thinking>nothing useful</thinking>"}
	})

	res, err := f.pipe.Process(context.Background(), turn("what aftercare do you recommend after a treatment?"))
	if err == nil || !strings.Contains(err.Error(), StepLLMGeneration) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if res.Reply != fallbackGenericTemplates[LangEN] {
		t.Fatalf("expected generic fallback, got %q", res.Reply)
	}
}

func TestNextFlowState(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mk := func(state FlowState) *TurnContext {
		tc := newTurnContext(turn("hi"), base)
		tc.Session = &Session{ID: "sess-1", FlowState: state}
		return tc
	}

	tc := mk(FlowCompleted)
	if got := nextFlowState(tc); got != FlowCompleted {
		t.Fatalf("terminal state moved to %s", got)
	}

	tc = mk(FlowEscalated)
	if got := nextFlowState(tc); got != FlowEscalated {
		t.Fatalf("escalated state moved to %s", got)
	}

	tc = mk(FlowIdle)
	tc.Lane = LaneScheduling
	if got := nextFlowState(tc); got != FlowCollectingSlots {
		t.Fatalf("scheduling with no constraints: %s", got)
	}

	tc = mk(FlowIdle)
	tc.Lane = LaneScheduling
	tc.toolCalls = 2
	if got := nextFlowState(tc); got != FlowPresentingSlots {
		t.Fatalf("tool turn: %s", got)
	}

	tc = mk(FlowIdle)
	tc.Lane = LaneScheduling
	tc.Constraints.SetDesiredService("Botox")
	tc.Constraints.SetTimeWindow(base, base.Add(time.Hour), "tomorrow")
	if got := nextFlowState(tc); got != FlowAwaitingConfirmation {
		t.Fatalf("service+window: %s", got)
	}

	tc = mk(FlowIdle)
	tc.Lane = LaneFAQ
	if got := nextFlowState(tc); got != FlowInfoSeeking {
		t.Fatalf("faq from idle: %s", got)
	}

	tc = mk(FlowAwaitingConfirmation)
	tc.Lane = LaneFAQ
	if got := nextFlowState(tc); got != FlowAwaitingConfirmation {
		t.Fatalf("faq from non-safe state should hold, got %s", got)
	}
}
