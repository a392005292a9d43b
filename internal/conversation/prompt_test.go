package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/brightline-ai/concierge/internal/narrowing"
)

func promptContext(profile func(*TurnContext)) *TurnContext {
	tc := newTurnContext(turn("hola"), time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	tc.ClinicID = "clinic-1"
	tc.Profile = testProfile()
	tc.Language = LangES
	if profile != nil {
		profile(tc)
	}
	return tc
}

func TestBuildSystemPromptPersonaAndCatalog(t *testing.T) {
	tc := promptContext(nil)

	blocks := buildSystemPrompt(tc, true, 5)
	if len(blocks) != 1 {
		t.Fatalf("no narrowing directive expected, got %d blocks", len(blocks))
	}
	body := blocks[0]

	if !strings.Contains(body, "concierge for Glow Clinic") {
		t.Fatalf("persona missing clinic name:\n%s", body)
	}
	if !strings.Contains(body, "Reply in Spanish.") {
		t.Fatalf("persona missing language:\n%s", body)
	}
	if !strings.Contains(body, "- Botox: $350 (30 min)") {
		t.Fatalf("catalog line missing:\n%s", body)
	}
	if !strings.Contains(body, "- Dr. Elena Sokolova (Botox)") {
		t.Fatalf("doctor roster missing service links:\n%s", body)
	}
	if !strings.Contains(body, `"Today" means Tuesday, 2026-03-10. "Tomorrow" means Wednesday, 2026-03-11.`) {
		t.Fatalf("date rules not anchored:\n%s", body)
	}
	if !strings.Contains(body, "TOOLS:") || !strings.Contains(body, "At most 5 tool calls per turn.") {
		t.Fatalf("tools section missing:\n%s", body)
	}
}

func TestBuildSystemPromptWithoutTools(t *testing.T) {
	tc := promptContext(nil)

	body := buildSystemPrompt(tc, false, 5)[0]
	if strings.Contains(body, "TOOLS:") {
		t.Fatalf("tools section should be omitted:\n%s", body)
	}
}

func TestBuildSystemPromptConstraintsSection(t *testing.T) {
	tc := promptContext(func(tc *TurnContext) {
		tc.Constraints.SetDesiredService("Botox")
		tc.Constraints.ExcludeDoctor("Dr. Elena Sokolova")
		start := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
		tc.Constraints.SetTimeWindow(start, start.Add(4*time.Hour), "tomorrow morning")
	})

	body := buildSystemPrompt(tc, true, 5)[0]
	if !strings.Contains(body, "Wanted service: Botox") {
		t.Fatalf("service line missing:\n%s", body)
	}
	if !strings.Contains(body, "Excluded doctors: Dr. Elena Sokolova") {
		t.Fatalf("exclusion line missing:\n%s", body)
	}
	if !strings.Contains(body, "Time window: tomorrow morning (Wed 2026-03-11 08:00 to Wed 2026-03-11 12:00)") {
		t.Fatalf("window line missing:\n%s", body)
	}
	if !strings.Contains(body, "do not re-ask") {
		t.Fatalf("constraint instruction missing:\n%s", body)
	}
}

func TestBuildSystemPromptNarrowingDirectiveFirst(t *testing.T) {
	count := 2
	tc := promptContext(func(tc *TurnContext) {
		tc.Instruction = &narrowing.Instruction{
			Action:              narrowing.ActionAskQuestion,
			Case:                narrowing.CaseServiceOnly,
			Urgency:             narrowing.UrgencyRoutine,
			QuestionType:        narrowing.AskForTime,
			QuestionArgs:        map[string]string{"service_name": "Botox"},
			EligibleDoctorCount: &count,
			EligibleDoctors: []narrowing.Doctor{
				{ID: "doc-1", Name: "Dr. Elena Sokolova"},
				{ID: "doc-2", Name: "Dr. Ana Ruiz"},
			},
		}
	})

	blocks := buildSystemPrompt(tc, true, 5)
	if len(blocks) != 2 {
		t.Fatalf("expected directive block plus body, got %d", len(blocks))
	}
	directive := blocks[0]
	if !strings.HasPrefix(directive, "BOOKING FUNNEL DIRECTIVE:") {
		t.Fatalf("directive must lead:\n%s", directive)
	}
	if !strings.Contains(directive, "State: service_only. Urgency: routine.") {
		t.Fatalf("state line missing:\n%s", directive)
	}
	if !strings.Contains(directive, "ask which day or time works for Botox.") {
		t.Fatalf("question directive missing:\n%s", directive)
	}
	if !strings.Contains(directive, "Eligible doctors (2): Dr. Elena Sokolova, Dr. Ana Ruiz. Do not name anyone else.") {
		t.Fatalf("roster clamp missing:\n%s", directive)
	}
}

func TestBuildSystemPromptPassThroughAddsNoDirective(t *testing.T) {
	tc := promptContext(func(tc *TurnContext) {
		tc.Instruction = &narrowing.Instruction{Action: narrowing.ActionPassThrough}
	})

	blocks := buildSystemPrompt(tc, true, 5)
	if len(blocks) != 1 {
		t.Fatalf("pass_through must not add a directive, got %d blocks", len(blocks))
	}
}

func TestBuildSystemPromptCallToolDirective(t *testing.T) {
	tc := promptContext(func(tc *TurnContext) {
		tc.Instruction = &narrowing.Instruction{
			Action:     narrowing.ActionCallTool,
			Case:       narrowing.CaseFullySpecified,
			Urgency:    narrowing.UrgencySoon,
			ToolName:   "check_availability",
			ToolParams: map[string]any{"service": "Botox"},
		}
	})

	directive := buildSystemPrompt(tc, true, 5)[0]
	if !strings.Contains(directive, "Call the check_availability tool now with") {
		t.Fatalf("tool directive missing:\n%s", directive)
	}

	// With tools disabled the directive degrades to a confirmation ask.
	directive = buildSystemPrompt(tc, false, 5)[0]
	if !strings.Contains(directive, "tell them you are checking availability") {
		t.Fatalf("toolless degradation missing:\n%s", directive)
	}
}

func TestBuildSystemPromptOverrides(t *testing.T) {
	tc := promptContext(func(tc *TurnContext) {
		tc.Profile.PromptOverrides = map[string]string{
			"persona":        "You are Glow Clinic's assistant. Keep answers short.",
			"booking_policy": "BOOKING POLICY:\nDeposits are non-refundable.",
		}
	})

	body := buildSystemPrompt(tc, true, 5)[0]
	if !strings.Contains(body, "You are Glow Clinic's assistant.") {
		t.Fatalf("persona override not applied:\n%s", body)
	}
	if strings.Contains(body, "virtual front-desk concierge") {
		t.Fatalf("stock persona should be replaced:\n%s", body)
	}
	if !strings.Contains(body, "Deposits are non-refundable.") {
		t.Fatalf("override for empty section not applied:\n%s", body)
	}
}

func TestPatientSection(t *testing.T) {
	if got := patientSection(nil); got != "" {
		t.Fatalf("nil patient should produce nothing, got %q", got)
	}
	got := patientSection(&Patient{FirstName: "Maria", LastName: "Lopez", PreferredLanguage: LangES})
	if !strings.Contains(got, "Name: Maria Lopez") || !strings.Contains(got, "Preferred language: Spanish") {
		t.Fatalf("unexpected section: %q", got)
	}
	if got := patientSection(&Patient{Phone: "+15550001111"}); got != "" {
		t.Fatalf("patient with no usable fields should produce nothing, got %q", got)
	}
}
