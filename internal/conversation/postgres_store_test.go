package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline-ai/concierge/internal/constraints"
	"github.com/brightline-ai/concierge/pkg/logging"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewPostgresStore(db, logging.Default())
	return store, mock, func() { db.Close() }
}

func sessionRowColumns() []string {
	return []string{
		"id", "user_identifier", "clinic_id", "channel", "flow_state", "turn_status",
		"control_mode", "pending_action", "pending_since", "followup_at",
		"session_language", "summary", "status", "unread_for_human_count",
		"last_message_at", "created_at", "updated_at",
	}
}

func TestGetOrCreateSessionInsert(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(append(sessionRowColumns(), "created")).
		AddRow("sess-1", "+15550001111", "clinic-1", "whatsapp", "idle", "user_turn",
			"agent", "", nil, nil, "", "", "open", 0, now, now, now, true)

	mock.ExpectQuery(`(?s)INSERT INTO sessions.*ON CONFLICT \(user_identifier, clinic_id, channel\) WHERE status = 'open'.*RETURNING.*\(xmax = 0\)`).
		WithArgs(sqlmock.AnyArg(), "+15550001111", "clinic-1", "whatsapp").
		WillReturnRows(rows)

	session, created, err := store.GetOrCreateSession(context.Background(), "+15550001111", "clinic-1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, FlowIdle, session.FlowState)
	assert.Equal(t, ControlAgent, session.ControlMode)
	assert.Equal(t, ChannelWhatsApp, session.Channel)
	assert.Nil(t, session.FollowupAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateSessionConflictReturnsExisting(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Now().UTC()
	pending := now.Add(-time.Hour)
	rows := sqlmock.NewRows(append(sessionRowColumns(), "created")).
		AddRow("sess-7", "+15550001111", "clinic-1", "whatsapp", "collecting_slots", "agent_action_pending",
			"agent", "team_follow_up", pending, now.Add(time.Hour), "es", "summary text", "open", 2, now, now, now, false)

	mock.ExpectQuery(`(?s)INSERT INTO sessions.*\(xmax = 0\)`).
		WithArgs(sqlmock.AnyArg(), "+15550001111", "clinic-1", "whatsapp").
		WillReturnRows(rows)

	session, created, err := store.GetOrCreateSession(context.Background(), "+15550001111", "clinic-1", "whatsapp")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, FlowCollectingSlots, session.FlowState)
	assert.Equal(t, "team_follow_up", session.PendingAction)
	require.NotNil(t, session.PendingSince)
	assert.Equal(t, "es", session.SessionLanguage)
	assert.Equal(t, 2, session.UnreadForHuman)
}

func TestGetOrCreateSessionNormalizesUnknownFlowState(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(append(sessionRowColumns(), "created")).
		AddRow("sess-2", "+15550001111", "clinic-1", "whatsapp", "negotiating", "user_turn",
			"agent", "", nil, nil, "", "", "open", 0, now, now, now, false)

	mock.ExpectQuery(`(?s)INSERT INTO sessions`).
		WithArgs(sqlmock.AnyArg(), "+15550001111", "clinic-1", "whatsapp").
		WillReturnRows(rows)

	session, _, err := store.GetOrCreateSession(context.Background(), "+15550001111", "clinic-1", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, FlowIdle, session.FlowState)
}

func TestGetOrCreateSessionRequiresIdentifiers(t *testing.T) {
	store, _, closeDB := newMockStore(t)
	defer closeDB()

	_, _, err := store.GetOrCreateSession(context.Background(), " ", "clinic-1", "whatsapp")
	assert.Error(t, err)
	_, _, err = store.GetOrCreateSession(context.Background(), "+15550001111", "", "whatsapp")
	assert.Error(t, err)
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreMessage(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	meta, _ := json.Marshal(map[string]any{"intent": "greeting"})
	mock.ExpectExec(`INSERT INTO messages \(session_id, role, content, metadata, created_at\)`).
		WithArgs("sess-1", ChatRoleUser, "hi", meta).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE sessions SET last_message_at = NOW\(\)`).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.StoreMessage(context.Background(), "sess-1", ChatRoleUser, "hi", map[string]any{"intent": "greeting"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMessageToleratesTimestampBumpFailure(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs("sess-1", ChatRoleAssistant, "hello", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE sessions SET last_message_at`).
		WithArgs("sess-1").
		WillReturnError(errors.New("connection reset"))

	err := store.StoreMessage(context.Background(), "sess-1", ChatRoleAssistant, "hello", nil)
	assert.NoError(t, err)
}

func TestHistoryReturnsChronologicalOrder(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	t1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "metadata", "created_at"}).
		AddRow(int64(2), "sess-1", "assistant", "hello!", []byte(`{"source":"llm"}`), t2).
		AddRow(int64(1), "sess-1", "user", "hi", []byte(`{}`), t1)

	mock.ExpectQuery(`(?s)SELECT m\.id, m\.session_id.*JOIN sessions s ON s\.id = m\.session_id.*AND s\.status = 'open'.*ORDER BY m\.created_at DESC`).
		WithArgs("+15550001111", "clinic-1", 30).
		WillReturnRows(rows)

	msgs, err := store.History(context.Background(), "+15550001111", "clinic-1", 30, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "llm", msgs[1].Metadata["source"])
}

func TestUpdateSessionPatchSQL(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	flow := FlowGreeting
	lang := "en"
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE sessions SET flow_state = $1, session_language = $2, updated_at = NOW() WHERE id = $3")).
		WithArgs("greeting", "en", "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateSession(context.Background(), "sess-1", SessionPatch{
		FlowState:       &flow,
		SessionLanguage: &lang,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionClearPendingNullsColumns(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	status := TurnUser
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE sessions SET turn_status = $1, pending_action = NULL, pending_since = NULL, followup_at = NULL, updated_at = NOW() WHERE id = $2")).
		WithArgs("user_turn", "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateSession(context.Background(), "sess-1", SessionPatch{
		TurnStatus:   &status,
		ClearPending: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionEmptyPatchIsNoop(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	err := store.UpdateSession(context.Background(), "sess-1", SessionPatch{})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionMissingRow(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	flow := FlowIdle
	mock.ExpectExec(`UPDATE sessions SET flow_state`).
		WithArgs("idle", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSession(context.Background(), "ghost", SessionPatch{FlowState: &flow})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConstraintsRoundTrip(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	stored := &constraints.Constraints{
		DesiredService:  "Botox",
		ExcludedDoctors: []string{"Dr. Elena Sokolova"},
	}
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COALESCE(constraints, '{}'::jsonb) FROM sessions WHERE id = $1")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"constraints"}).AddRow(raw))

	got, err := store.Constraints(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Botox", got.DesiredService)
	assert.Equal(t, []string{"Dr. Elena Sokolova"}, got.ExcludedDoctors)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE sessions SET constraints = $2, updated_at = NOW() WHERE id = $1")).
		WithArgs("sess-1", raw).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateConstraints(context.Background(), "sess-1", stored))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConstraintsNilWritesEmptyDocument(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec(`UPDATE sessions SET constraints`).
		WithArgs("sess-1", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.UpdateConstraints(context.Background(), "sess-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUnreadUsesReturning(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE sessions SET unread_for_human_count = unread_for_human_count + 1, updated_at = NOW() WHERE id = $1 RETURNING unread_for_human_count")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"unread_for_human_count"}).AddRow(3))

	count, err := store.IncrementUnread(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIncrementUnreadFallsBackToReadModifyWrite(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE sessions SET unread_for_human_count`).
		WithArgs("sess-1").
		WillReturnError(errors.New("RETURNING not supported"))
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT unread_for_human_count FROM sessions WHERE id = $1")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"unread_for_human_count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE sessions SET unread_for_human_count = $2, updated_at = NOW() WHERE id = $1")).
		WithArgs("sess-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.IncrementUnread(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUnreadMissingSession(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE sessions SET unread_for_human_count`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.IncrementUnread(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetPatientNotFound(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT clinic_id, phone`).
		WithArgs("clinic-1", "+15550009999").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetPatient(context.Background(), "clinic-1", "+15550009999")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestUpsertPatient(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec(`(?s)INSERT INTO patients.*ON CONFLICT \(clinic_id, phone\) DO UPDATE SET.*NULLIF\(EXCLUDED\.first_name, ''\)`).
		WithArgs("clinic-1", "+15550001111", "Maria", "Lopez", "es").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.UpsertPatient(context.Background(), Patient{
		ClinicID: "clinic-1", Phone: "+15550001111",
		FirstName: "Maria", LastName: "Lopez", PreferredLanguage: "es",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = store.UpsertPatient(context.Background(), Patient{Phone: "+15550001111"})
	assert.Error(t, err)
}

func TestLockSessionAdvisoryLock(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	key := "+15550001111|clinic-1|whatsapp"
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock(hashtextextended($1, 0))")).
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock(hashtextextended($1, 0))")).
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))

	release, err := store.LockSession(context.Background(), key)
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}
