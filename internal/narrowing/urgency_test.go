package narrowing

import "testing"

func TestClassifyUrgency(t *testing.T) {
	tests := []struct {
		input string
		want  Urgency
	}{
		{"I need an appointment ASAP", UrgencyUrgent},
		{"it really hurts, severe pain", UrgencyUrgent},
		{"my gums are bleeding", UrgencyUrgent},
		{"es una emergencia", UrgencyUrgent},
		{"preciso o quanto antes", UrgencyUrgent},
		{"у меня срочно, очень болит", UrgencyUrgent},
		{"דחוף מאוד", UrgencyUrgent},
		{"soon would be nice", UrgencySoon},
		{"esta semana por favor", UrgencySoon},
		{"можно поскорее?", UrgencySoon},
		{"בקרוב בבקשה", UrgencySoon},
		{"soon, but honestly it's urgent", UrgencyUrgent},
		{"just a cleaning sometime", UrgencyRoutine},
		{"", UrgencyRoutine},
	}
	for _, tt := range tests {
		if got := ClassifyUrgency(tt.input); got != tt.want {
			t.Errorf("ClassifyUrgency(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
