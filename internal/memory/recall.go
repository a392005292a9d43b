package memory

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// RecallConfig tunes the read side of long-term memory.
type RecallConfig struct {
	// ReadsEnabled serves recall from the remote index, with Postgres as
	// the fallback. Off means Postgres only.
	ReadsEnabled bool
	// ShadowMode overrides ReadsEnabled: callers always get the Postgres
	// answer while a sampled fraction of reads also queries the index so
	// the two can be compared in logs.
	ShadowMode bool
	// CanarySampleRate is the fraction of shadow reads that actually hit
	// the index, 0..1.
	CanarySampleRate float64
	// Timeout bounds each remote read. Values under 800ms are raised.
	Timeout time.Duration
}

func (c RecallConfig) withDefaults() RecallConfig {
	if c.Timeout <= 0 {
		c.Timeout = 6 * time.Second
	}
	if c.Timeout < 800*time.Millisecond {
		c.Timeout = 800 * time.Millisecond
	}
	if c.CanarySampleRate < 0 {
		c.CanarySampleRate = 0
	}
	if c.CanarySampleRate > 1 {
		c.CanarySampleRate = 1
	}
	return c
}

type summarySource interface {
	LatestSummary(ctx context.Context, userID, clinicID string) (string, error)
}

// Recall serves previous-session summaries to the pipeline. Postgres stays
// authoritative; the remote index answers live reads only when enabled, and
// shadow mode compares the two without changing what callers see.
type Recall struct {
	store  summarySource
	index  Indexer
	cfg    RecallConfig
	logger *logging.Logger
	sample func() float64
}

// NewRecall wires the read path. index may be nil.
func NewRecall(store *SearchStore, index Indexer, cfg RecallConfig, logger *logging.Logger) *Recall {
	if store == nil {
		panic("memory: search store required")
	}
	return newRecall(store, index, cfg, logger)
}

func newRecall(store summarySource, index Indexer, cfg RecallConfig, logger *logging.Logger) *Recall {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recall{
		store:  store,
		index:  index,
		cfg:    cfg.withDefaults(),
		logger: logger,
		sample: rand.Float64,
	}
}

// LatestSummary returns the freshest memory of this user at this clinic.
func (r *Recall) LatestSummary(ctx context.Context, userID, clinicID string) (string, error) {
	if r.index == nil {
		return r.store.LatestSummary(ctx, userID, clinicID)
	}

	if r.cfg.ShadowMode {
		summary, err := r.store.LatestSummary(ctx, userID, clinicID)
		if err == nil && r.sample() < r.cfg.CanarySampleRate {
			go r.shadowCompare(userID, clinicID, summary)
		}
		return summary, err
	}

	if r.cfg.ReadsEnabled {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		hits, err := r.index.Search(callCtx, userID, clinicID, "", 1)
		cancel()
		if err == nil && len(hits) > 0 && strings.TrimSpace(hits[0].Text) != "" {
			return strings.TrimSpace(hits[0].Text), nil
		}
		if err != nil {
			r.logger.Warn("memory index read failed, using store",
				"clinic_id", clinicID,
				"error", err,
			)
		}
	}

	return r.store.LatestSummary(ctx, userID, clinicID)
}

// shadowCompare runs the index read off the request path and logs whether
// the two sources agree. The request context is long gone by the time this
// runs, so the read gets its own deadline.
func (r *Recall) shadowCompare(userID, clinicID, baseline string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	hits, err := r.index.Search(ctx, userID, clinicID, "", 1)
	if err != nil {
		r.logger.Warn("memory shadow read failed", "clinic_id", clinicID, "error", err)
		return
	}
	remote := ""
	if len(hits) > 0 {
		remote = strings.TrimSpace(hits[0].Text)
	}
	r.logger.Info("memory shadow read",
		"clinic_id", clinicID,
		"store_has_summary", baseline != "",
		"index_has_memory", remote != "",
		"agree", (baseline != "") == (remote != ""),
	)
}
