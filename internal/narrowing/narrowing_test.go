package narrowing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightline-ai/concierge/internal/constraints"
)

// fakeDirectory returns a canned doctor list or error.
type fakeDirectory struct {
	doctors []Doctor
	err     error
	calls   int
}

func (f *fakeDirectory) EligibleDoctors(ctx context.Context, clinicID, service string) ([]Doctor, error) {
	f.calls++
	return f.doctors, f.err
}

func withService(name string) constraints.Constraints {
	return constraints.Constraints{DesiredService: name}
}

func withWindow(c constraints.Constraints) constraints.Constraints {
	start := time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	c.SetTimeWindow(start, end, "tomorrow morning")
	return c
}

func TestDecideFullySpecifiedCallsTool(t *testing.T) {
	dir := &fakeDirectory{doctors: []Doctor{{ID: "d1", Name: "Dr. Li"}}}
	svc := NewService(dir, nil)

	c := withWindow(withService("cleaning"))
	c.DesiredDoctor = "Dr. Li"
	c.DesiredDoctorID = "d1"

	inst := svc.Decide(context.Background(), Request{
		ClinicID: "clinic-a", Message: "book it", Constraints: c, BookingIntent: true,
	})

	if inst.Action != ActionCallTool || inst.ToolName != "check_availability" {
		t.Fatalf("Action/Tool = %v/%v, want call_tool/check_availability", inst.Action, inst.ToolName)
	}
	if inst.Case != CaseFullySpecified {
		t.Errorf("Case = %v, want fully_specified", inst.Case)
	}
	if inst.ToolParams["date"] != "2025-03-11" {
		t.Errorf("date param = %v, want 2025-03-11", inst.ToolParams["date"])
	}
	if inst.ToolParams["flex"] != 1 {
		t.Errorf("flex = %v, want 1", inst.ToolParams["flex"])
	}
	if inst.ToolParams["doctor_id"] != "d1" {
		t.Errorf("doctor_id = %v, want d1", inst.ToolParams["doctor_id"])
	}
}

func TestDecideServiceTimeFlexDependsOnUrgency(t *testing.T) {
	svc := NewService(&fakeDirectory{doctors: []Doctor{}}, nil)
	c := withWindow(withService("cleaning"))

	inst := svc.Decide(context.Background(), Request{Constraints: c, Message: "sometime works", BookingIntent: true})
	if inst.Case != CaseServiceTime || inst.ToolParams["flex"] != 2 {
		t.Errorf("routine service+time: case %v flex %v, want service+time flex 2", inst.Case, inst.ToolParams["flex"])
	}

	inst = svc.Decide(context.Background(), Request{Constraints: c, Message: "it's urgent!", BookingIntent: true})
	if inst.ToolParams["flex"] != 1 {
		t.Errorf("urgent service+time flex = %v, want 1", inst.ToolParams["flex"])
	}
}

func TestDecideServiceDoctorAsksForTime(t *testing.T) {
	svc := NewService(&fakeDirectory{doctors: []Doctor{{ID: "d1", Name: "Dr. Li"}}}, nil)
	c := withService("cleaning")
	c.DesiredDoctor = "Dr. Li"

	inst := svc.Decide(context.Background(), Request{Constraints: c, BookingIntent: true})
	if inst.QuestionType != AskTimeWithService {
		t.Fatalf("QuestionType = %v, want ask_time_with_service", inst.QuestionType)
	}
	if inst.QuestionArgs["doctor_name"] != "Dr. Li" || inst.QuestionArgs["service_name"] != "cleaning" {
		t.Errorf("QuestionArgs = %v", inst.QuestionArgs)
	}
}

func TestDecideServiceOnlySingleDoctor(t *testing.T) {
	dir := &fakeDirectory{doctors: []Doctor{{ID: "d1", Name: "Dr. Li"}}}
	svc := NewService(dir, nil)

	inst := svc.Decide(context.Background(), Request{
		ClinicID: "clinic-a", Constraints: withService("cleaning"), BookingIntent: true,
	})

	if inst.Action != ActionAskQuestion || inst.Case != CaseServiceOnly {
		t.Fatalf("Action/Case = %v/%v", inst.Action, inst.Case)
	}
	if inst.QuestionType != AskTimeWithDoctor {
		t.Errorf("QuestionType = %v, want ask_time_with_doctor", inst.QuestionType)
	}
	if inst.QuestionArgs["doctor_name"] != "Dr. Li" || inst.QuestionArgs["service_name"] != "cleaning" {
		t.Errorf("QuestionArgs = %v", inst.QuestionArgs)
	}
	if inst.EligibleDoctorCount == nil || *inst.EligibleDoctorCount != 1 {
		t.Errorf("EligibleDoctorCount = %v, want 1", inst.EligibleDoctorCount)
	}
}

func TestDecideServiceOnlyCounts(t *testing.T) {
	tests := []struct {
		name    string
		doctors []Doctor
		err     error
		want    QuestionType
	}{
		{"lookup failed", nil, errors.New("db down"), AskForTime},
		{"zero eligible", []Doctor{}, nil, SuggestConsult},
		{"two eligible", []Doctor{{Name: "Dr. A"}, {Name: "Dr. B"}}, nil, AskFirstAvailable},
		{"three eligible", []Doctor{{Name: "Dr. A"}, {Name: "Dr. B"}, {Name: "Dr. C"}}, nil, AskFirstAvailable},
		{"many eligible", []Doctor{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}}, nil, AskForTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeDirectory{doctors: tt.doctors, err: tt.err}, nil)
			inst := svc.Decide(context.Background(), Request{Constraints: withService("cleaning"), BookingIntent: true})

			if inst.QuestionType != tt.want {
				t.Errorf("QuestionType = %v, want %v", inst.QuestionType, tt.want)
			}
			if tt.err != nil {
				if inst.EligibleDoctorCount != nil {
					t.Errorf("failed lookup must yield nil count, got %d", *inst.EligibleDoctorCount)
				}
			} else if inst.EligibleDoctorCount == nil || *inst.EligibleDoctorCount != len(tt.doctors) {
				t.Errorf("EligibleDoctorCount = %v, want %d", inst.EligibleDoctorCount, len(tt.doctors))
			}
		})
	}
}

func TestDecideNilCountIsNotZero(t *testing.T) {
	failed := NewService(&fakeDirectory{err: errors.New("timeout")}, nil)
	empty := NewService(&fakeDirectory{doctors: []Doctor{}}, nil)
	req := Request{Constraints: withService("cleaning"), BookingIntent: true}

	a := failed.Decide(context.Background(), req)
	b := empty.Decide(context.Background(), req)
	if a.QuestionType == b.QuestionType {
		t.Errorf("failed lookup and zero results must diverge, both got %v", a.QuestionType)
	}
}

func TestDecideExcludedDoctorsShrinkCount(t *testing.T) {
	dir := &fakeDirectory{doctors: []Doctor{{ID: "d1", Name: "Dr. Li"}, {ID: "d2", Name: "Dr. Wu"}}}
	svc := NewService(dir, nil)

	c := withService("cleaning")
	c.ExcludeDoctor("dr. wu")

	inst := svc.Decide(context.Background(), Request{Constraints: c, BookingIntent: true})
	if inst.QuestionType != AskTimeWithDoctor {
		t.Fatalf("QuestionType = %v, want ask_time_with_doctor after exclusion", inst.QuestionType)
	}
	if inst.QuestionArgs["doctor_name"] != "Dr. Li" {
		t.Errorf("doctor_name = %q, want the remaining doctor", inst.QuestionArgs["doctor_name"])
	}
}

func TestDecideDoctorOnlyFollowsStrategy(t *testing.T) {
	svc := NewService(&fakeDirectory{}, nil)
	c := constraints.Constraints{DesiredDoctor: "Dr. Li"}

	inst := svc.Decide(context.Background(), Request{Constraints: c, Strategy: StrategyServiceFirst, BookingIntent: true})
	if inst.QuestionType != AskForService {
		t.Errorf("service_first: QuestionType = %v, want ask_for_service", inst.QuestionType)
	}

	inst = svc.Decide(context.Background(), Request{Constraints: c, Strategy: StrategyDoctorFirst, BookingIntent: true})
	if inst.QuestionType != AskTimeWithDoctor {
		t.Errorf("doctor_first: QuestionType = %v, want ask_time_with_doctor", inst.QuestionType)
	}
}

func TestDecideUrgentNothingKnownAsksTodayOrTomorrow(t *testing.T) {
	svc := NewService(&fakeDirectory{}, nil)

	inst := svc.Decide(context.Background(), Request{Message: "I need help, it's urgent", BookingIntent: true})
	if inst.Case != CaseUrgentNoTime {
		t.Fatalf("Case = %v, want urgent_no_time", inst.Case)
	}
	if inst.QuestionType != AskTodayOrTomorrow {
		t.Errorf("QuestionType = %v, want ask_today_or_tomorrow", inst.QuestionType)
	}
}

func TestDecidePassThroughWithoutBookingSignal(t *testing.T) {
	dir := &fakeDirectory{}
	svc := NewService(dir, nil)

	inst := svc.Decide(context.Background(), Request{Message: "what are your opening hours?"})
	if inst.Action != ActionPassThrough {
		t.Errorf("Action = %v, want pass_through for a non-booking turn", inst.Action)
	}
	if dir.calls != 0 {
		t.Errorf("directory should not be queried without a known service, got %d calls", dir.calls)
	}
}

func TestDecideTimeOnlyAsksForService(t *testing.T) {
	svc := NewService(&fakeDirectory{}, nil)
	c := withWindow(constraints.Constraints{})

	inst := svc.Decide(context.Background(), Request{Constraints: c, BookingIntent: true})
	if inst.Case != CaseTimeOnly || inst.QuestionType != AskForService {
		t.Errorf("Case/QuestionType = %v/%v, want time_only/ask_for_service", inst.Case, inst.QuestionType)
	}
}

func TestDecideDoctorAndTimeFoldsToDoctorOnly(t *testing.T) {
	svc := NewService(&fakeDirectory{}, nil)
	c := withWindow(constraints.Constraints{DesiredDoctor: "Dr. Li"})

	inst := svc.Decide(context.Background(), Request{Constraints: c, BookingIntent: true})
	if inst.Case != CaseDoctorOnly {
		t.Errorf("Case = %v, want doctor_only when service is missing", inst.Case)
	}
}
