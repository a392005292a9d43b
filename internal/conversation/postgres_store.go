package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-ai/concierge/internal/constraints"
	"github.com/brightline-ai/concierge/pkg/logging"
)

const sessionColumns = `id, user_identifier, clinic_id, channel, flow_state, turn_status, control_mode,
	COALESCE(pending_action, ''), pending_since, followup_at,
	COALESCE(session_language, ''), COALESCE(summary, ''), status,
	unread_for_human_count, last_message_at, created_at, updated_at`

// PostgresStore implements Store over database/sql. Session uniqueness is
// enforced by a partial unique index on (user_identifier, clinic_id,
// channel) WHERE status = 'open'; GetOrCreateSession upserts against it so
// two concurrent first messages cannot open two sessions.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
}

var _ Store = (*PostgresStore)(nil)
var _ SessionLocker = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, logger *logging.Logger) *PostgresStore {
	if db == nil {
		panic("conversation: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, userID, clinicID, channel string) (*Session, bool, error) {
	userID = strings.TrimSpace(userID)
	clinicID = strings.TrimSpace(clinicID)
	if userID == "" || clinicID == "" {
		return nil, false, errors.New("conversation: user and clinic ids are required")
	}
	if channel == "" {
		channel = ChannelWhatsApp
	}

	// DO UPDATE instead of DO NOTHING so the existing row is returned.
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO sessions (id, user_identifier, clinic_id, channel, flow_state, turn_status, control_mode, status, constraints, unread_for_human_count, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'idle', 'user_turn', 'agent', 'open', '{}'::jsonb, 0, NOW(), NOW(), NOW())
		ON CONFLICT (user_identifier, clinic_id, channel) WHERE status = 'open'
		DO UPDATE SET last_message_at = NOW(), updated_at = NOW()
		RETURNING ` + sessionColumns + `, (xmax = 0)`

	row := s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, clinicID, channel)
	session, created, err := scanSessionCreated(row)
	if err != nil {
		return nil, false, fmt.Errorf("conversation: get or create session: %w", err)
	}
	return session, created, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("conversation: get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) StoreMessage(ctx context.Context, sessionID, role, content string, metadata map[string]any) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("conversation: session id is required")
	}

	meta := []byte("{}")
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("conversation: encode message metadata: %w", err)
		}
		meta = encoded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		sessionID, role, content, meta,
	)
	if err != nil {
		return fmt.Errorf("conversation: store message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_message_at = NOW(), updated_at = NOW() WHERE id = $1`,
		sessionID,
	); err != nil {
		// The transcript entry is already durable; a stale timestamp only
		// delays the idle sweep.
		s.logger.Warn("failed to bump session last_message_at", "session_id", sessionID, "error", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, userID, clinicID string, limit int, allSessions bool) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT m.id, m.session_id, m.role, m.content, COALESCE(m.metadata, '{}'::jsonb), m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_identifier = $1 AND s.clinic_id = $2`
	if !allSessions {
		query += ` AND s.status = 'open'`
	}
	query += `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, userID, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			msg  StoredMessage
			meta []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan history row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
				s.logger.Warn("dropping unreadable message metadata", "message_id", msg.ID, "error", err)
				msg.Metadata = nil
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate history: %w", err)
	}

	// The query walks newest-first so LIMIT keeps the tail; callers want
	// chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	if patch.Empty() {
		return nil
	}

	set := make([]string, 0, 10)
	args := make([]any, 0, 10)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.FlowState != nil {
		add("flow_state", string(*patch.FlowState))
	}
	if patch.TurnStatus != nil {
		add("turn_status", string(*patch.TurnStatus))
	}
	if patch.ControlMode != nil {
		add("control_mode", string(*patch.ControlMode))
	}
	if patch.SessionLanguage != nil {
		add("session_language", *patch.SessionLanguage)
	}
	if patch.Summary != nil {
		add("summary", *patch.Summary)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ClearPending {
		set = append(set, "pending_action = NULL", "pending_since = NULL", "followup_at = NULL")
	} else {
		if patch.PendingAction != nil {
			add("pending_action", *patch.PendingAction)
		}
		if patch.PendingSince != nil {
			add("pending_since", *patch.PendingSince)
		}
		if patch.FollowupAt != nil {
			add("followup_at", *patch.FollowupAt)
		}
	}
	set = append(set, "updated_at = NOW()")

	args = append(args, sessionID)
	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conversation: update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Constraints(ctx context.Context, sessionID string) (*constraints.Constraints, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(constraints, '{}'::jsonb) FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("conversation: load constraints: %w", err)
	}

	c := &constraints.Constraints{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("conversation: decode constraints: %w", err)
		}
	}
	return c, nil
}

func (s *PostgresStore) UpdateConstraints(ctx context.Context, sessionID string, c *constraints.Constraints) error {
	if c == nil {
		c = &constraints.Constraints{}
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation: encode constraints: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET constraints = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, raw,
	)
	if err != nil {
		return fmt.Errorf("conversation: update constraints: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, clinicID, phone string) (*Patient, error) {
	p := &Patient{}
	err := s.db.QueryRowContext(ctx,
		`SELECT clinic_id, phone, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(preferred_language, '')
		 FROM patients WHERE clinic_id = $1 AND phone = $2`,
		clinicID, phone,
	).Scan(&p.ClinicID, &p.Phone, &p.FirstName, &p.LastName, &p.PreferredLanguage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("conversation: get patient: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpsertPatient(ctx context.Context, p Patient) error {
	if strings.TrimSpace(p.ClinicID) == "" || strings.TrimSpace(p.Phone) == "" {
		return errors.New("conversation: patient clinic and phone are required")
	}

	// NULLIF keeps an empty extraction from wiping a name we already know.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (clinic_id, phone, first_name, last_name, preferred_language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (clinic_id, phone) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), patients.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), patients.last_name),
			preferred_language = COALESCE(NULLIF(EXCLUDED.preferred_language, ''), patients.preferred_language),
			updated_at = NOW()`,
		p.ClinicID, p.Phone, p.FirstName, p.LastName, p.PreferredLanguage,
	)
	if err != nil {
		return fmt.Errorf("conversation: upsert patient: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementUnread(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sessions SET unread_for_human_count = unread_for_human_count + 1, updated_at = NOW() WHERE id = $1 RETURNING unread_for_human_count`,
		sessionID,
	).Scan(&count)
	if err == nil {
		return count, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionNotFound
	}

	// Read-modify-write fallback. Loses atomicity under contention but
	// keeps the gate working when RETURNING is unavailable.
	s.logger.Warn("unread increment fell back to read-modify-write", "session_id", sessionID, "error", err)
	if err := s.db.QueryRowContext(ctx,
		`SELECT unread_for_human_count FROM sessions WHERE id = $1`, sessionID,
	).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("conversation: read unread count: %w", err)
	}
	count++
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET unread_for_human_count = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, count,
	); err != nil {
		return 0, fmt.Errorf("conversation: write unread count: %w", err)
	}
	return count, nil
}

// LockSession takes the Postgres advisory lock that serializes concurrent
// turns for one conversation. The key is the conversation's natural key,
// so even two racing first messages queue behind each other. The lock is
// tied to a dedicated connection; the returned closure releases both.
func (s *PostgresStore) LockSession(ctx context.Context, key string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: acquire lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("conversation: acquire session lock: %w", err)
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			s.logger.Warn("failed to release session lock", "lock_key", key, "error", err)
		}
		_ = conn.Close()
	}
	return release, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session       Session
		pendingAction string
		pendingSince  sql.NullTime
		followupAt    sql.NullTime
	)
	err := row.Scan(
		&session.ID, &session.UserIdentifier, &session.ClinicID, &session.Channel,
		&session.FlowState, &session.TurnStatus, &session.ControlMode,
		&pendingAction, &pendingSince, &followupAt,
		&session.SessionLanguage, &session.Summary, &session.Status,
		&session.UnreadForHuman, &session.LastMessageAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.PendingAction = pendingAction
	if pendingSince.Valid {
		t := pendingSince.Time
		session.PendingSince = &t
	}
	if followupAt.Valid {
		t := followupAt.Time
		session.FollowupAt = &t
	}
	if !session.FlowState.Valid() {
		session.FlowState = FlowIdle
	}
	return &session, nil
}

func scanSessionCreated(row rowScanner) (*Session, bool, error) {
	var (
		session       Session
		pendingAction string
		pendingSince  sql.NullTime
		followupAt    sql.NullTime
		created       bool
	)
	err := row.Scan(
		&session.ID, &session.UserIdentifier, &session.ClinicID, &session.Channel,
		&session.FlowState, &session.TurnStatus, &session.ControlMode,
		&pendingAction, &pendingSince, &followupAt,
		&session.SessionLanguage, &session.Summary, &session.Status,
		&session.UnreadForHuman, &session.LastMessageAt, &session.CreatedAt, &session.UpdatedAt,
		&created,
	)
	if err != nil {
		return nil, false, err
	}
	session.PendingAction = pendingAction
	if pendingSince.Valid {
		t := pendingSince.Time
		session.PendingSince = &t
	}
	if followupAt.Valid {
		t := followupAt.Time
		session.FollowupAt = &t
	}
	if !session.FlowState.Valid() {
		session.FlowState = FlowIdle
	}
	return &session, created, nil
}
