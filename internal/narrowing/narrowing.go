// Package narrowing decides the next agent action for a booking
// conversation: ask a structured question, call an availability tool, or
// stay out of the way. Decisions are deterministic functions of the current
// constraints so agent behavior is testable.
package narrowing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/brightline-ai/concierge/internal/constraints"
	"github.com/brightline-ai/concierge/pkg/logging"
)

var tracer = otel.Tracer("concierge/narrowing")

// Action is what the pipeline should do with this turn.
type Action string

const (
	ActionAskQuestion Action = "ask_question"
	ActionCallTool    Action = "call_tool"
	ActionPassThrough Action = "pass_through"
)

// Case labels how much the agent knows about service, doctor and time.
type Case string

const (
	CaseFullySpecified Case = "fully_specified"
	CaseServiceOnly    Case = "service_only"
	CaseServiceTime    Case = "service+time"
	CaseServiceDoctor  Case = "service+doctor"
	CaseDoctorOnly     Case = "doctor_only"
	CaseTimeOnly       Case = "time_only"
	CaseNothingKnown   Case = "nothing_known"
	CaseUrgentNoTime   Case = "urgent_no_time"
)

// QuestionType selects the structured question template.
type QuestionType string

const (
	AskForService      QuestionType = "ask_for_service"
	AskForTime         QuestionType = "ask_for_time"
	AskForDoctor       QuestionType = "ask_for_doctor"
	AskTimeWithDoctor  QuestionType = "ask_time_with_doctor"
	AskTimeWithService QuestionType = "ask_time_with_service"
	AskTodayOrTomorrow QuestionType = "ask_today_or_tomorrow"
	SuggestConsult     QuestionType = "suggest_consultation"
	AskFirstAvailable  QuestionType = "ask_first_available"
)

// Strategy is the clinic's preference for which slot to pin down first when
// only a doctor is known.
type Strategy string

const (
	StrategyServiceFirst Strategy = "service_first"
	StrategyDoctorFirst  Strategy = "doctor_first"
)

// Doctor is the narrow view of a practitioner the funnel needs.
type Doctor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DoctorDirectory answers which doctors perform a service. Implementations
// must return the full set; the funnel slices for display.
type DoctorDirectory interface {
	EligibleDoctors(ctx context.Context, clinicID, service string) ([]Doctor, error)
}

// Instruction is the decision record emitted each turn. It is attached to
// the turn context and echoed into the prompt control block.
type Instruction struct {
	Action       Action            `json:"action"`
	Case         Case              `json:"case"`
	Urgency      Urgency           `json:"urgency"`
	QuestionType QuestionType      `json:"question_type,omitempty"`
	QuestionArgs map[string]string `json:"question_args,omitempty"`
	ToolName     string            `json:"tool_name,omitempty"`
	ToolParams   map[string]any    `json:"tool_params,omitempty"`

	// EligibleDoctorCount is nil iff the directory lookup failed. Zero is a
	// real answer and must stay distinguishable from nil.
	EligibleDoctorCount *int `json:"eligible_doctor_count"`

	// EligibleDoctors carries the (already filtered) list for the prompt
	// composer; not serialized with the decision record.
	EligibleDoctors []Doctor `json:"-"`
}

// Request is one turn's input to the funnel.
type Request struct {
	ClinicID    string
	Message     string
	Constraints constraints.Constraints
	Strategy    Strategy
	// BookingIntent is set by the router when the turn is about getting an
	// appointment (or any constraint is already standing).
	BookingIntent bool
}

// Service runs the narrowing funnel.
type Service struct {
	directory DoctorDirectory
	logger    *logging.Logger
}

func NewService(directory DoctorDirectory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{directory: directory, logger: logger}
}

// Decide classifies the turn and returns the instruction. It never fails:
// a directory error is folded into a nil doctor count.
func (s *Service) Decide(ctx context.Context, req Request) Instruction {
	ctx, span := tracer.Start(ctx, "narrowing.decide")
	defer span.End()

	urgency := ClassifyUrgency(req.Message)
	c := req.Constraints
	kase := classifyCase(&c)

	var (
		count   *int
		doctors []Doctor
	)
	if c.HasService() && s.directory != nil {
		list, err := s.lookupDoctors(ctx, req.ClinicID, &c)
		if err != nil {
			s.logger.Warn("eligible doctors lookup failed",
				"clinic_id", req.ClinicID, "service", c.DesiredService, "error", err)
		} else {
			n := len(list)
			count = &n
			doctors = list
		}
	}

	if urgency == UrgencyUrgent && kase == CaseNothingKnown {
		kase = CaseUrgentNoTime
	}

	// A turn with no booking signal and nothing pinned down is not ours to
	// steer; the model answers naturally.
	if !req.BookingIntent && kase == CaseNothingKnown {
		inst := Instruction{Action: ActionPassThrough, Case: kase, Urgency: urgency, EligibleDoctorCount: count}
		span.SetAttributes(attribute.String("narrowing.case", string(kase)))
		return inst
	}

	inst := buildInstruction(kase, &c, urgency, doctors, count, req.Strategy)

	span.SetAttributes(
		attribute.String("narrowing.case", string(inst.Case)),
		attribute.String("narrowing.action", string(inst.Action)),
		attribute.String("narrowing.urgency", string(inst.Urgency)),
	)
	s.logger.Debug("narrowing decision",
		"case", inst.Case, "action", inst.Action, "question", inst.QuestionType, "tool", inst.ToolName)
	return inst
}

// lookupDoctors fetches the full eligible set and drops excluded ones, so
// the count reflects doctors the patient would actually accept.
func (s *Service) lookupDoctors(ctx context.Context, clinicID string, c *constraints.Constraints) ([]Doctor, error) {
	all, err := s.directory.EligibleDoctors(ctx, clinicID, c.DesiredService)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, d := range all {
		if excludedDoctor(c, d) {
			continue
		}
		out = append(out, d)
	}
	if out == nil {
		out = []Doctor{}
	}
	return out, nil
}

func excludedDoctor(c *constraints.Constraints, d Doctor) bool {
	for _, ex := range c.ExcludedDoctors {
		if strings.EqualFold(ex, d.Name) || ex == d.ID {
			return true
		}
	}
	return false
}

// classifyCase maps the three knowledge booleans to a canonical case.
// Doctor plus time without a service still needs the service question, so
// it folds into doctor_only.
func classifyCase(c *constraints.Constraints) Case {
	hasService, hasDoctor, hasTime := c.HasService(), c.HasDoctor(), c.HasTimeWindow()
	switch {
	case hasService && hasDoctor && hasTime:
		return CaseFullySpecified
	case hasService && hasTime:
		return CaseServiceTime
	case hasService && hasDoctor:
		return CaseServiceDoctor
	case hasService:
		return CaseServiceOnly
	case hasDoctor:
		return CaseDoctorOnly
	case hasTime:
		return CaseTimeOnly
	default:
		return CaseNothingKnown
	}
}

func buildInstruction(kase Case, c *constraints.Constraints, urgency Urgency, doctors []Doctor, count *int, strategy Strategy) Instruction {
	inst := Instruction{
		Action:              ActionAskQuestion,
		Case:                kase,
		Urgency:             urgency,
		EligibleDoctorCount: count,
		EligibleDoctors:     doctors,
	}

	switch kase {
	case CaseFullySpecified:
		inst.Action = ActionCallTool
		inst.ToolName = "check_availability"
		inst.ToolParams = map[string]any{
			"service":   c.DesiredService,
			"doctor_id": c.DesiredDoctorID,
			"doctor":    c.DesiredDoctor,
			"date":      windowDate(c),
			"flex":      1,
		}

	case CaseServiceTime:
		flex := 2
		if urgency == UrgencyUrgent {
			flex = 1
		}
		inst.Action = ActionCallTool
		inst.ToolName = "check_availability"
		inst.ToolParams = map[string]any{
			"service": c.DesiredService,
			"date":    windowDate(c),
			"flex":    flex,
		}

	case CaseServiceDoctor:
		inst.QuestionType = AskTimeWithService
		inst.QuestionArgs = map[string]string{
			"service_name": c.DesiredService,
			"doctor_name":  c.DesiredDoctor,
		}

	case CaseServiceOnly:
		inst.QuestionType, inst.QuestionArgs = serviceOnlyQuestion(c, doctors, count)

	case CaseDoctorOnly:
		if strategy == StrategyDoctorFirst {
			inst.QuestionType = AskTimeWithDoctor
			inst.QuestionArgs = map[string]string{"doctor_name": c.DesiredDoctor}
		} else {
			inst.QuestionType = AskForService
			inst.QuestionArgs = map[string]string{"doctor_name": c.DesiredDoctor}
		}

	case CaseTimeOnly, CaseNothingKnown:
		inst.QuestionType = AskForService

	case CaseUrgentNoTime:
		inst.QuestionType = AskTodayOrTomorrow
	}
	return inst
}

// serviceOnlyQuestion picks the question by how many doctors remain
// eligible. nil count means the lookup failed and time is the safe axis to
// narrow on.
func serviceOnlyQuestion(c *constraints.Constraints, doctors []Doctor, count *int) (QuestionType, map[string]string) {
	args := map[string]string{"service_name": c.DesiredService}
	if count == nil {
		return AskForTime, args
	}
	switch {
	case *count == 0:
		return SuggestConsult, args
	case *count == 1:
		args["doctor_name"] = doctors[0].Name
		return AskTimeWithDoctor, args
	case *count <= 3:
		names := make([]string, len(doctors))
		for i, d := range doctors {
			names[i] = d.Name
		}
		args["doctor_names"] = strings.Join(names, ", ")
		return AskFirstAvailable, args
	default:
		return AskForTime, args
	}
}

// windowDate renders the start of the time window as the tool's date
// argument; the window is already in the clinic timezone.
func windowDate(c *constraints.Constraints) string {
	if c.TimeWindowStart == nil {
		return ""
	}
	return c.TimeWindowStart.Format("2006-01-02")
}
