package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/pkg/logging"
)

const (
	defaultSweepInterval = time.Hour
	defaultIdleAfter     = 72 * time.Hour
	defaultBatchSize     = 50
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type sweeperConfig struct {
	interval  time.Duration
	idleAfter time.Duration
	batchSize int
	metrics   *metrics.SweepMetrics
}

// SweeperOption customizes the idle-session sweeper.
type SweeperOption func(*sweeperConfig)

// WithSweepInterval sets the spacing between sweep passes.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(cfg *sweeperConfig) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// WithIdleAfter sets how long a session must stay quiet before it is
// archived.
func WithIdleAfter(d time.Duration) SweeperOption {
	return func(cfg *sweeperConfig) {
		if d > 0 {
			cfg.idleAfter = d
		}
	}
}

// WithBatchSize bounds how many sessions one pass may archive.
func WithBatchSize(n int) SweeperOption {
	return func(cfg *sweeperConfig) {
		if n > 0 {
			cfg.batchSize = n
		}
	}
}

// WithSweepMetrics wires the prometheus metric set.
func WithSweepMetrics(m *metrics.SweepMetrics) SweeperOption {
	return func(cfg *sweeperConfig) {
		cfg.metrics = m
	}
}

// Sweeper closes sessions idle past a threshold: it writes a summary to the
// session row, marks the session closed, and preserves the transcript in
// S3. Closing happens before the S3 put, and the close is conditional on
// the session still being open, so two replicas never archive the same
// session twice.
type Sweeper struct {
	pool       querier
	store      *Store
	summarizer *Summarizer
	logger     *logging.Logger
	cfg        sweeperConfig
	tracer     trace.Tracer

	wg  sync.WaitGroup
	now func() time.Time
}

// NewSweeper builds the sweeper. store must be non-nil; when its bucket is
// unset Start is a no-op and sessions stay open.
func NewSweeper(pool *pgxpool.Pool, store *Store, summarizer *Summarizer, logger *logging.Logger, opts ...SweeperOption) *Sweeper {
	if pool == nil {
		panic("archive: pool cannot be nil")
	}
	return newSweeper(pool, store, summarizer, logger, opts...)
}

func newSweeper(pool querier, store *Store, summarizer *Summarizer, logger *logging.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := sweeperConfig{
		interval:  defaultSweepInterval,
		idleAfter: defaultIdleAfter,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sweeper{
		pool:       pool,
		store:      store,
		summarizer: summarizer,
		logger:     logger,
		cfg:        cfg,
		tracer:     otel.Tracer("concierge/archive"),
		now:        time.Now,
	}
}

// Start launches the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.store.Enabled() {
		s.logger.Info("session archiver disabled: no bucket configured")
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the sweep loop exits.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("archive sweep failed", "error", err)
			}
		}
	}
}

type candidate struct {
	id       string
	user     string
	clinicID string
	channel  string
	language string
	flow     string
	openedAt time.Time
	lastMsg  time.Time
}

// Sweep runs one pass and returns how many sessions were archived.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "archive.sweep")
	defer span.End()
	start := s.now()

	cutoff := start.Add(-s.cfg.idleAfter)
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_identifier, clinic_id, channel, COALESCE(session_language, ''), flow_state, created_at, last_message_at
		FROM sessions
		WHERE status = 'open' AND last_message_at < $1
		ORDER BY last_message_at ASC
		LIMIT $2`,
		cutoff, s.cfg.batchSize,
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("archive: list idle sessions: %w", err)
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.user, &c.clinicID, &c.channel, &c.language, &c.flow, &c.openedAt, &c.lastMsg); err != nil {
			rows.Close()
			span.RecordError(err)
			return 0, fmt.Errorf("archive: scan idle session: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("archive: list idle sessions: %w", err)
	}

	archived := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.archiveSession(ctx, c)
		switch {
		case err != nil:
			s.logger.Error("session archive failed", "session_id", c.id, "error", err)
			s.cfg.metrics.ObserveSession("archive", "error")
		case ok:
			archived++
			s.cfg.metrics.ObserveSession("archive", "archived")
		default:
			// another replica closed it between the list and the claim
			s.cfg.metrics.ObserveSession("archive", "skipped")
		}
	}

	s.cfg.metrics.ObserveSweep("archive", s.now().Sub(start))
	if archived > 0 {
		s.logger.Info("archive sweep complete", "archived", archived, "candidates", len(candidates))
	}
	return archived, nil
}

// archiveSession closes one session and ships its transcript. The claiming
// UPDATE doubles as the replica guard: zero rows affected means someone
// else already closed it.
func (s *Sweeper) archiveSession(ctx context.Context, c candidate) (bool, error) {
	msgs, err := s.loadTranscript(ctx, c.id)
	if err != nil {
		return false, err
	}

	summary := s.summarizer.Summarize(ctx, c.language, msgs)

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET summary = $2, status = 'closed', updated_at = NOW() WHERE id = $1 AND status = 'open'`,
		c.id, summary,
	)
	if err != nil {
		return false, fmt.Errorf("archive: close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	now := s.now().UTC()
	ScrubTranscript(msgs)
	record := &SessionRecord{
		Version:         "1.0",
		SessionID:       c.id,
		ClinicID:        c.clinicID,
		UserHash:        HashPhone(c.user),
		Channel:         c.channel,
		Language:        c.language,
		Outcome:         outcomeFor(c.flow),
		Summary:         ScrubPII(summary),
		OpenedAt:        c.openedAt,
		LastMessageAt:   c.lastMsg,
		ArchivedAt:      now,
		DurationSeconds: int(c.lastMsg.Sub(c.openedAt).Seconds()),
		MessageCount:    len(msgs),
		Messages:        msgs,
	}
	if err := s.store.Archive(ctx, record); err != nil {
		// The session is already closed with its summary; only the S3 copy
		// is missing. The transcript stays readable in the database.
		return true, fmt.Errorf("archive: ship transcript: %w", err)
	}
	return true, nil
}

func (s *Sweeper) loadTranscript(ctx context.Context, sessionID string) ([]TranscriptMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = $1 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load transcript: %w", err)
	}
	defer rows.Close()

	var msgs []TranscriptMessage
	for rows.Next() {
		var m TranscriptMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan transcript: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: load transcript: %w", err)
	}
	return msgs, nil
}

func outcomeFor(flow string) string {
	switch conversation.FlowState(flow) {
	case conversation.FlowCompleted:
		return "resolved"
	case conversation.FlowEscalated:
		return "escalated"
	case conversation.FlowFailed:
		return "failed"
	default:
		return "idle_timeout"
	}
}
