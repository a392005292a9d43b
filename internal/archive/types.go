// Package archive closes long-idle sessions and preserves their transcripts
// in S3. The summary written back to the session row is what later sessions
// see as "previous visit" context.
package archive

import "time"

// SessionRecord is the transcript document written to S3 when a session is
// closed. Phone numbers are hashed and message bodies scrubbed before the
// record leaves the database.
type SessionRecord struct {
	Version         string              `json:"version"` // "1.0"
	SessionID       string              `json:"session_id"`
	ClinicID        string              `json:"clinic_id"`
	UserHash        string              `json:"user_hash"` // sha256 of the phone
	Channel         string              `json:"channel"`
	Language        string              `json:"language,omitempty"`
	Outcome         string              `json:"outcome"` // idle_timeout|resolved|escalated|failed
	Summary         string              `json:"summary,omitempty"`
	OpenedAt        time.Time           `json:"opened_at"`
	LastMessageAt   time.Time           `json:"last_message_at"`
	ArchivedAt      time.Time           `json:"archived_at"`
	DurationSeconds int                 `json:"duration_seconds"`
	MessageCount    int                 `json:"message_count"`
	Messages        []TranscriptMessage `json:"messages"`
}

// TranscriptMessage is one archived conversation turn.
type TranscriptMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID    string `json:"session_id"`
	S3Key        string `json:"s3_key"`
	ClinicID     string `json:"clinic_id"`
	Outcome      string `json:"outcome"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}
