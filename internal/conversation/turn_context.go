package conversation

import (
	"time"

	"github.com/brightline-ai/concierge/internal/clinic"
	"github.com/brightline-ai/concierge/internal/constraints"
	"github.com/brightline-ai/concierge/internal/narrowing"
)

// InboundTurn is one user message as handed over by the ingress worker.
type InboundTurn struct {
	JobID             string    `json:"job_id"`
	Instance          string    `json:"instance"`
	From              string    `json:"from"`
	Text              string    `json:"text"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// TurnResult is what the pipeline reports back to the worker once a turn
// is fully handled.
type TurnResult struct {
	SessionID string           `json:"session_id"`
	Reply     string           `json:"reply,omitempty"`
	Language  string           `json:"language"`
	Intent    Intent           `json:"intent"`
	Lane      Lane             `json:"lane"`
	Escalated bool             `json:"escalated"`
	Timings   map[string]int64 `json:"timings,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// TurnContext is the mutable state threaded through the pipeline steps.
// Steps read what earlier steps produced and write what later steps need.
type TurnContext struct {
	Turn InboundTurn
	Now  time.Time

	ClinicID       string
	Profile        *clinic.Profile
	Session        *Session
	SessionCreated bool

	History           []StoredMessage
	Patient           *Patient
	Summary           string
	PreviousSummary   string
	AdditionalContext string

	Language string
	Intent   Intent
	Lane     Lane

	Constraints        *constraints.Constraints
	ConstraintsChanged bool

	Instruction *narrowing.Instruction

	Reply         string
	ReplyLanguage string
	ReplySource   string
	SkipEgress    bool
	Escalated     bool

	StepTimings map[string]int64
	Metadata    map[string]any

	toolCalls    int
	clearPending bool
	unlock       func()
}

func newTurnContext(turn InboundTurn, now time.Time) *TurnContext {
	return &TurnContext{
		Turn:        turn,
		Now:         now,
		Constraints: &constraints.Constraints{},
		StepTimings: make(map[string]int64),
		Metadata:    make(map[string]any),
	}
}

func (tc *TurnContext) SetMeta(key string, value any) {
	if tc.Metadata == nil {
		tc.Metadata = make(map[string]any)
	}
	tc.Metadata[key] = value
}

func (tc *TurnContext) recordTiming(step string, d time.Duration) {
	tc.StepTimings[step] = d.Milliseconds()
}

// Snapshot captures the turn state for error logs. The pipeline takes one
// before running each step, so the report for a failed step shows the state
// the step started from rather than whatever it had mutated by the time it
// returned the error.
func (tc *TurnContext) Snapshot() map[string]any {
	snap := map[string]any{
		"job_id":    tc.Turn.JobID,
		"instance":  tc.Turn.Instance,
		"clinic_id": tc.ClinicID,
		"language":  tc.Language,
		"intent":    string(tc.Intent),
		"lane":      string(tc.Lane),
		"escalated": tc.Escalated,
	}
	if tc.Session != nil {
		snap["session_id"] = tc.Session.ID
		snap["flow_state"] = string(tc.Session.FlowState)
		snap["turn_status"] = string(tc.Session.TurnStatus)
		snap["control_mode"] = string(tc.Session.ControlMode)
	}
	if tc.Constraints != nil && !tc.Constraints.Empty() {
		snap["constraints"] = tc.Constraints.Clone()
	}
	return snap
}

func (tc *TurnContext) result() *TurnResult {
	res := &TurnResult{
		Reply:     tc.Reply,
		Language:  tc.Language,
		Intent:    tc.Intent,
		Lane:      tc.Lane,
		Escalated: tc.Escalated,
		Timings:   tc.StepTimings,
		Metadata:  tc.Metadata,
	}
	if tc.Session != nil {
		res.SessionID = tc.Session.ID
	}
	return res
}

// constraintSummary projects the standing constraints into the echo line
// rendered under replies on turns that changed them.
func (tc *TurnContext) constraintSummary() constraintParts {
	if tc.Constraints == nil {
		return constraintParts{}
	}
	return constraintParts{
		Service:         tc.Constraints.DesiredService,
		Doctor:          tc.Constraints.DesiredDoctor,
		ExcludedDoctors: tc.Constraints.ExcludedDoctors,
		TimeLabel:       tc.Constraints.TimeWindowLabel,
	}
}
