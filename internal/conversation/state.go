package conversation

// FlowState tracks where a session stands in the booking funnel. It is
// orthogonal to TurnStatus: flow describes the conversation's subject,
// turn status describes whose move it is.
type FlowState string

const (
	FlowIdle                  FlowState = "idle"
	FlowInfoSeeking           FlowState = "info_seeking"
	FlowGreeting              FlowState = "greeting"
	FlowCollectingSlots       FlowState = "collecting_slots"
	FlowPresentingSlots       FlowState = "presenting_slots"
	FlowAwaitingClarification FlowState = "awaiting_clarification"
	FlowAwaitingConfirmation  FlowState = "awaiting_confirmation"
	FlowDisambiguating        FlowState = "disambiguating"
	FlowBooking               FlowState = "booking"
	FlowCompleted             FlowState = "completed"
	FlowFailed                FlowState = "failed"
	FlowEscalated             FlowState = "escalated"
)

// Terminal reports whether the session is finished. Terminal sessions are
// never reopened; a new inbound message creates a fresh session.
func (f FlowState) Terminal() bool {
	switch f {
	case FlowCompleted, FlowFailed, FlowEscalated:
		return true
	}
	return false
}

// InBookingLane reports whether booking-lane steps (narrowing, availability
// tools) should run for this state.
func (f FlowState) InBookingLane() bool {
	switch f {
	case FlowIdle, FlowCollectingSlots, FlowPresentingSlots, FlowAwaitingConfirmation, FlowBooking:
		return true
	}
	return false
}

// Valid reports whether the value is one of the defined states. Rows
// written by older builds may carry values we no longer use; the store
// normalizes them to idle on read.
func (f FlowState) Valid() bool {
	switch f {
	case FlowIdle, FlowInfoSeeking, FlowGreeting, FlowCollectingSlots,
		FlowPresentingSlots, FlowAwaitingClarification, FlowAwaitingConfirmation,
		FlowDisambiguating, FlowBooking, FlowCompleted, FlowFailed, FlowEscalated:
		return true
	}
	return false
}

// TurnStatus records whose move it is within the session.
type TurnStatus string

const (
	TurnUser               TurnStatus = "user_turn"
	TurnAgentActionPending TurnStatus = "agent_action_pending"
	TurnAgent              TurnStatus = "agent_turn"
	TurnResolved           TurnStatus = "resolved"
	TurnEscalated          TurnStatus = "escalated"
)

// ControlMode records who owns the session: the bot, a human operator, or
// nobody (paused). In human and paused modes the bot stays silent and only
// records inbound traffic for the operator.
type ControlMode string

const (
	ControlAgent  ControlMode = "agent"
	ControlHuman  ControlMode = "human"
	ControlPaused ControlMode = "paused"
)

// BotSilent reports whether the pipeline must suppress all agent replies.
func (m ControlMode) BotSilent() bool {
	return m == ControlHuman || m == ControlPaused
}

// Session status values. A session is open until it resolves, escalates,
// or the archiver sweeps it.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)
