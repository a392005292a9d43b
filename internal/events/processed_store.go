package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records provider event ids that were already handled, so a
// redelivered webhook or requeued job produces exactly one reply.
type ProcessedStore struct {
	pool     rowQuerier
	provider string
}

// NewProcessedStore builds the store. provider scopes the id namespace and
// defaults to whatsapp.
func NewProcessedStore(pool *pgxpool.Pool, provider string) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newProcessedStoreWithExec(pool, provider)
}

func newProcessedStoreWithExec(exec rowQuerier, provider string) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	if strings.TrimSpace(provider) == "" {
		provider = "whatsapp"
	}
	return &ProcessedStore{pool: exec, provider: provider}
}

// AlreadyProcessed reports whether this event id was handled before. The
// ingest handler uses it to answer webhook redeliveries without enqueueing
// a second turn.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, s.provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed claims the event id, returning false if another worker got
// there first.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, s.provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
