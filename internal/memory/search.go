package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSummaryWindow bounds how far back summary search reaches when the
// caller does not say otherwise.
const DefaultSummaryWindow = 90 * 24 * time.Hour

const (
	defaultSummaryLimit   = 5
	defaultHistoryPerPage = 20
)

// SessionSummary is one archived-session digest.
type SessionSummary struct {
	SessionID     string
	Summary       string
	Language      string
	LastMessageAt time.Time
}

// SummaryQuery filters archived-session summaries.
type SummaryQuery struct {
	UserID   string
	ClinicID string
	Query    string    // optional full-text filter over the summary
	Since    time.Time // zero means now minus DefaultSummaryWindow
	Limit    int
}

// HistoryQuery filters the user's full message history.
type HistoryQuery struct {
	UserID   string
	ClinicID string
	Query    string // optional full-text filter over message content
	Page     int    // 1-based
	PerPage  int
}

// HistoryMessage is one transcript line from history search.
type HistoryMessage struct {
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// HistoryPage is one page of history search results.
type HistoryPage struct {
	Messages []HistoryMessage
	Total    int
	Page     int
	PerPage  int
	HasMore  bool
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SearchStore reads archived summaries and message history straight from
// Postgres. It is the durable half of long-term memory; the remote index
// only ever supplements it.
type SearchStore struct {
	pool   querier
	tracer trace.Tracer
	now    func() time.Time
}

// NewSearchStore builds a store backed by pgxpool.
func NewSearchStore(pool *pgxpool.Pool) *SearchStore {
	if pool == nil {
		panic("memory: pgx pool required")
	}
	return newSearchStoreWithQuerier(pool)
}

func newSearchStoreWithQuerier(q querier) *SearchStore {
	if q == nil {
		panic("memory: querier required")
	}
	return &SearchStore{
		pool:   q,
		tracer: otel.Tracer("concierge.internal.memory"),
		now:    time.Now,
	}
}

// LatestSummary returns the most recent closed-session summary for the user
// at this clinic, or "" when none exists inside the default window.
func (s *SearchStore) LatestSummary(ctx context.Context, userID, clinicID string) (string, error) {
	summaries, err := s.SearchSummaries(ctx, SummaryQuery{
		UserID:   userID,
		ClinicID: clinicID,
		Limit:    1,
	})
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "", nil
	}
	return summaries[0].Summary, nil
}

// SearchSummaries lists closed-session summaries, most recent first.
func (s *SearchStore) SearchSummaries(ctx context.Context, q SummaryQuery) ([]SessionSummary, error) {
	ctx, span := s.tracer.Start(ctx, "memory.search_summaries")
	defer span.End()

	if strings.TrimSpace(q.UserID) == "" || strings.TrimSpace(q.ClinicID) == "" {
		return nil, errors.New("memory: user and clinic ids required")
	}
	since := q.Since
	if since.IsZero() {
		since = s.now().Add(-DefaultSummaryWindow)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}

	query := `
		SELECT id, summary, COALESCE(session_language, ''), last_message_at
		FROM sessions
		WHERE user_identifier = $1 AND clinic_id = $2
		  AND status = 'closed' AND summary IS NOT NULL
		  AND last_message_at >= $3`
	args := []any{q.UserID, q.ClinicID, since}
	if text := strings.TrimSpace(q.Query); text != "" {
		args = append(args, text)
		query += fmt.Sprintf(`
		  AND to_tsvector('simple', summary) @@ websearch_to_tsquery('simple', $%d)`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(`
		ORDER BY last_message_at DESC
		LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("memory: search summaries: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Summary, &sum.Language, &sum.LastMessageAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("memory: scan summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("memory: iterate summaries: %w", err)
	}
	return out, nil
}

// SearchHistory pages through the user's transcript across all their
// sessions at the clinic, newest first.
func (s *SearchStore) SearchHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	ctx, span := s.tracer.Start(ctx, "memory.search_history")
	defer span.End()

	if strings.TrimSpace(q.UserID) == "" || strings.TrimSpace(q.ClinicID) == "" {
		return HistoryPage{}, errors.New("memory: user and clinic ids required")
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultHistoryPerPage
	}

	where := `
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_identifier = $1 AND s.clinic_id = $2`
	args := []any{q.UserID, q.ClinicID}
	if text := strings.TrimSpace(q.Query); text != "" {
		args = append(args, text)
		where += fmt.Sprintf(`
		  AND to_tsvector('simple', m.content) @@ websearch_to_tsquery('simple', $%d)`, len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return HistoryPage{}, fmt.Errorf("memory: count history: %w", err)
	}

	result := HistoryPage{Page: page, PerPage: perPage, Total: total}
	if total == 0 {
		return result, nil
	}

	pageQuery := `SELECT m.session_id, m.role, m.content, m.created_at` + where + fmt.Sprintf(`
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx, pageQuery, args...)
	if err != nil {
		span.RecordError(err)
		return HistoryPage{}, fmt.Errorf("memory: search history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg HistoryMessage
		if err := rows.Scan(&msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			span.RecordError(err)
			return HistoryPage{}, fmt.Errorf("memory: scan history row: %w", err)
		}
		result.Messages = append(result.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return HistoryPage{}, fmt.Errorf("memory: iterate history: %w", err)
	}
	result.HasMore = page*perPage < total
	return result, nil
}
