// Package followup delivers the promises the assistant makes: when a reply
// says "we'll get back to you", post-processing parks the session with a
// followup_at timestamp, and this scheduler nudges the patient when that
// moment passes without an agent action.
package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/brightline-ai/concierge/internal/clinic"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
	"github.com/jackc/pgx/v5"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 50
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Outbound enqueues nudges onto the per-instance egress stream.
// *whatsapp.Enqueuer satisfies it.
type Outbound interface {
	Enqueue(ctx context.Context, instance string, msg whatsapp.OutboundMessage) (bool, error)
}

type schedulerConfig struct {
	interval  time.Duration
	batchSize int
	metrics   *metrics.SweepMetrics
}

// SchedulerOption customizes the follow-up scheduler.
type SchedulerOption func(*schedulerConfig)

// WithInterval sets the spacing between scans.
func WithInterval(d time.Duration) SchedulerOption {
	return func(cfg *schedulerConfig) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// WithBatchSize bounds how many sessions one scan may nudge.
func WithBatchSize(n int) SchedulerOption {
	return func(cfg *schedulerConfig) {
		if n > 0 {
			cfg.batchSize = n
		}
	}
}

// WithSchedulerMetrics wires the prometheus metric set.
func WithSchedulerMetrics(m *metrics.SweepMetrics) SchedulerOption {
	return func(cfg *schedulerConfig) {
		cfg.metrics = m
	}
}

// Scheduler scans for sessions whose follow-up moment has passed and sends
// a localized nudge. Claiming happens in a transaction with FOR UPDATE SKIP
// LOCKED, so replicas running the same scan never double-send; the nudge is
// enqueued only after the claim commits.
type Scheduler struct {
	pool     db
	profiles clinic.ProfileSource
	outbound Outbound
	logger   *logging.Logger
	cfg      schedulerConfig

	wg  sync.WaitGroup
	now func() time.Time
}

// NewScheduler builds the scheduler.
func NewScheduler(pool db, profiles clinic.ProfileSource, outbound Outbound, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if pool == nil {
		panic("followup: pool cannot be nil")
	}
	if outbound == nil {
		panic("followup: outbound cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := schedulerConfig{
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scheduler{
		pool:     pool,
		profiles: profiles,
		outbound: outbound,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start launches the scan loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the scan loop exits.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Dispatch(ctx); err != nil {
				s.logger.Error("followup scan failed", "error", err)
			}
		}
	}
}

type dueSession struct {
	id       string
	user     string
	clinicID string
	language string
	action   string
}

// Dispatch runs one scan and returns how many nudges went out. Claimed
// sessions have their turn status reset and the nudge recorded in the
// transcript within the claiming transaction; the egress enqueue follows
// the commit, so a failed enqueue can lose a nudge but never duplicate one.
func (s *Scheduler) Dispatch(ctx context.Context) (int, error) {
	start := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("followup: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, user_identifier, clinic_id, COALESCE(session_language, ''), COALESCE(pending_action, '')
		FROM sessions
		WHERE status = 'open' AND turn_status = 'agent_action_pending' AND followup_at <= $1
		ORDER BY followup_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		start, s.cfg.batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("followup: list due sessions: %w", err)
	}
	var due []dueSession
	for rows.Next() {
		var d dueSession
		if err := rows.Scan(&d.id, &d.user, &d.clinicID, &d.language, &d.action); err != nil {
			rows.Close()
			return 0, fmt.Errorf("followup: scan due session: %w", err)
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("followup: list due sessions: %w", err)
	}

	texts := make(map[string]string, len(due))
	for _, d := range due {
		text := nudgeText(d.action, d.language)
		texts[d.id] = text

		if _, err := tx.Exec(ctx, `
			UPDATE sessions SET turn_status = 'agent_turn', pending_action = NULL, pending_since = NULL,
				followup_at = NULL, last_message_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			d.id,
		); err != nil {
			return 0, fmt.Errorf("followup: reset session %s: %w", d.id, err)
		}

		meta, _ := json.Marshal(map[string]any{"followup": true, "pending_action": d.action})
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (session_id, role, content, metadata, created_at)
			VALUES ($1, 'assistant', $2, $3, NOW())`,
			d.id, text, meta,
		); err != nil {
			return 0, fmt.Errorf("followup: record nudge %s: %w", d.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("followup: commit claims: %w", err)
	}

	sent := 0
	for _, d := range due {
		if err := s.sendNudge(ctx, d, texts[d.id]); err != nil {
			s.logger.Error("followup nudge failed", "session_id", d.id, "error", err)
			s.cfg.metrics.ObserveSession("followup", "error")
			continue
		}
		sent++
		s.cfg.metrics.ObserveSession("followup", "nudged")
	}

	s.cfg.metrics.ObserveSweep("followup", s.now().Sub(start))
	if sent > 0 {
		s.logger.Info("followup scan complete", "nudged", sent, "due", len(due))
	}
	return sent, nil
}

func (s *Scheduler) sendNudge(ctx context.Context, d dueSession, text string) error {
	profile, err := s.profiles.Get(ctx, d.clinicID)
	if err != nil {
		return fmt.Errorf("followup: resolve clinic %s: %w", d.clinicID, err)
	}
	if profile == nil || profile.InstanceName == "" {
		return fmt.Errorf("followup: clinic %s has no instance", d.clinicID)
	}
	_, err = s.outbound.Enqueue(ctx, profile.InstanceName, whatsapp.OutboundMessage{
		To:   d.user,
		Text: text,
		Metadata: map[string]string{
			"kind":           "followup_nudge",
			"session_id":     d.id,
			"pending_action": d.action,
		},
	})
	if err != nil {
		return fmt.Errorf("followup: enqueue nudge: %w", err)
	}
	return nil
}
