// Package conversation implements the inbound message pipeline: session
// and message persistence, intent routing, constraint tracking, LLM reply
// generation, and handoff to the outbound WhatsApp queue.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/brightline-ai/concierge/internal/constraints"
)

// Message roles as persisted and as sent to the LLM.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleSystem    = "system"
)

// Channel identifies the transport a session lives on.
const ChannelWhatsApp = "whatsapp"

var (
	// ErrSessionNotFound indicates the session id does not exist.
	ErrSessionNotFound = errors.New("conversation: session not found")
	// ErrPatientNotFound indicates no patient row for the clinic+phone pair.
	ErrPatientNotFound = errors.New("conversation: patient not found")
)

// Session is one conversation between a user and a clinic on a channel.
// Exactly one open session exists per (user, clinic, channel); the store
// enforces that with a partial unique index.
type Session struct {
	ID             string
	UserIdentifier string
	ClinicID       string
	Channel        string

	FlowState   FlowState
	TurnStatus  TurnStatus
	ControlMode ControlMode

	PendingAction string
	PendingSince  *time.Time
	FollowupAt    *time.Time

	SessionLanguage string
	Summary         string
	Status          string
	UnreadForHuman  int

	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StoredMessage is one persisted transcript entry.
type StoredMessage struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Patient is the per-clinic contact record maintained by post-processing.
type Patient struct {
	ClinicID          string
	Phone             string
	FirstName         string
	LastName          string
	PreferredLanguage string
}

// SessionPatch updates a subset of session fields. Nil pointers leave the
// column untouched. ClearPending nulls pending_action, pending_since and
// followup_at in the same statement, regardless of the pointer fields.
type SessionPatch struct {
	FlowState       *FlowState
	TurnStatus      *TurnStatus
	ControlMode     *ControlMode
	PendingAction   *string
	PendingSince    *time.Time
	FollowupAt      *time.Time
	SessionLanguage *string
	Summary         *string
	Status          *string
	ClearPending    bool
}

// Empty reports whether applying the patch would change nothing.
func (p SessionPatch) Empty() bool {
	return p.FlowState == nil && p.TurnStatus == nil && p.ControlMode == nil &&
		p.PendingAction == nil && p.PendingSince == nil && p.FollowupAt == nil &&
		p.SessionLanguage == nil && p.Summary == nil && p.Status == nil &&
		!p.ClearPending
}

// Store persists sessions, messages, constraints and patients.
type Store interface {
	// GetOrCreateSession returns the open session for the triple, creating
	// one atomically when none exists. The bool reports creation.
	GetOrCreateSession(ctx context.Context, userID, clinicID, channel string) (*Session, bool, error)

	// GetSession loads a session by id.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// StoreMessage appends a transcript entry and bumps the session's
	// last_message_at. Metadata may be nil.
	StoreMessage(ctx context.Context, sessionID, role, content string, metadata map[string]any) error

	// History returns messages for the user at the clinic in chronological
	// order, at most limit entries counted from the newest. With
	// allSessions false only the open session's transcript is read.
	History(ctx context.Context, userID, clinicID string, limit int, allSessions bool) ([]StoredMessage, error)

	// UpdateSession applies a patch.
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error

	// Constraints loads the session's booking constraints. A session with
	// no recorded constraints yields an empty value, not an error.
	Constraints(ctx context.Context, sessionID string) (*constraints.Constraints, error)

	// UpdateConstraints replaces the session's constraint document.
	UpdateConstraints(ctx context.Context, sessionID string, c *constraints.Constraints) error

	// GetPatient loads the clinic's contact record for a phone number.
	GetPatient(ctx context.Context, clinicID, phone string) (*Patient, error)

	// UpsertPatient creates or refreshes a patient. Empty fields never
	// overwrite values already on the row.
	UpsertPatient(ctx context.Context, p Patient) error

	// IncrementUnread bumps unread_for_human_count by one and returns the
	// new value.
	IncrementUnread(ctx context.Context, sessionID string) (int, error)
}

// SessionLocker serializes turns for one conversation across processes.
// The key is an opaque string (the pipeline uses the conversation's
// natural key). Implementations return a release closure; callers must
// invoke it.
type SessionLocker interface {
	LockSession(ctx context.Context, key string) (func(), error)
}
