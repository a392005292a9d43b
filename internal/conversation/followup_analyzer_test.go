package conversation

import (
	"testing"
	"time"
)

func TestAnalyzeFollowup(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		reply      string
		wantAction string
	}{
		{"availability promise", "Let me check availability for Thursday and get back to you.", "confirm_availability"},
		{"availability spanish", "Voy a verificar la disponibilidad y te aviso.", "confirm_availability"},
		{"team promise", "Our team will follow up with the exact time.", "team_follow_up"},
		{"i will confirm", "I'll get back to you once the doctor confirms.", "team_follow_up"},
		{"team promise russian", "Мы уточним у врача и сообщим вам.", "team_follow_up"},
		{"availability outranks team", "I'm checking availability now and our team will follow up.", "confirm_availability"},
		{"plain answer", "Botox costs $350 per area.", ""},
		{"question back", "Which day works best for you?", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := analyzeFollowup(tt.reply, now)
			if tt.wantAction == "" {
				if ok {
					t.Fatalf("expected no followup, got %q", plan.Action)
				}
				return
			}
			if !ok || plan.Action != tt.wantAction {
				t.Fatalf("expected %q, got %q (ok=%v)", tt.wantAction, plan.Action, ok)
			}
			if want := now.Add(defaultFollowupDelay); !plan.At.Equal(want) {
				t.Fatalf("expected followup at %s, got %s", want, plan.At)
			}
		})
	}
}
