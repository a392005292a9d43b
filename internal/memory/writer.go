package memory

import (
	"context"
	"sync"
	"time"

	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/pkg/logging"
)

type jobKind string

const (
	jobMessage jobKind = "message"
	jobTurn    jobKind = "turn"
	jobWarmup  jobKind = "warmup"
)

type job struct {
	kind          jobKind
	sessionID     string
	userID        string
	clinicID      string
	role          string
	text          string
	userText      string
	assistantText string
}

const (
	defaultQueueSize    = 256
	defaultWriterCount  = 1
	defaultIndexTimeout = 6 * time.Second
	defaultWarmInterval = 15 * time.Minute
	defaultWarnAfter    = 2 * time.Second
)

type writerConfig struct {
	queueSize    int
	workers      int
	indexTimeout time.Duration
	warmInterval time.Duration
	warnAfter    time.Duration
	metrics      *metrics.MemoryMetrics
	recorder     *Recorder
}

// WriterOption customizes the background writer.
type WriterOption func(*writerConfig)

// WithQueueSize bounds how many jobs may wait before new work is dropped.
func WithQueueSize(n int) WriterOption {
	return func(cfg *writerConfig) {
		if n > 0 {
			cfg.queueSize = n
		}
	}
}

// WithWriterCount sets the number of consumer goroutines.
func WithWriterCount(n int) WriterOption {
	return func(cfg *writerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithIndexTimeout sets the per-job deadline for remote index calls.
// Values under 800ms are raised to 800ms.
func WithIndexTimeout(d time.Duration) WriterOption {
	return func(cfg *writerConfig) {
		if d <= 0 {
			return
		}
		if d < 800*time.Millisecond {
			d = 800 * time.Millisecond
		}
		cfg.indexTimeout = d
	}
}

// WithWarmInterval sets the minimum spacing between warmups per clinic.
func WithWarmInterval(d time.Duration) WriterOption {
	return func(cfg *writerConfig) {
		if d > 0 {
			cfg.warmInterval = d
		}
	}
}

// WithWarnAfter sets the latency above which a job counts as a breach.
func WithWarnAfter(d time.Duration) WriterOption {
	return func(cfg *writerConfig) {
		if d > 0 {
			cfg.warnAfter = d
		}
	}
}

// WithWriterMetrics wires the prometheus metric set.
func WithWriterMetrics(m *metrics.MemoryMetrics) WriterOption {
	return func(cfg *writerConfig) {
		cfg.metrics = m
	}
}

// WithWriterRecorder wires the snapshot recorder.
func WithWriterRecorder(r *Recorder) WriterOption {
	return func(cfg *writerConfig) {
		cfg.recorder = r
	}
}

// Writer pushes turns and messages to the remote index from a bounded
// queue. Enqueue methods never block and never fail the calling turn; when
// the buffer is full the job is dropped and counted.
type Writer struct {
	index  Indexer
	logger *logging.Logger
	cfg    writerConfig

	jobs chan job
	wg   sync.WaitGroup

	warmMu       sync.Mutex
	warmInFlight map[string]struct{}
	warmDone     map[string]time.Time

	now func() time.Time
}

// NewWriter builds the writer. index may be nil, which turns every enqueue
// into a no-op so callers never need their own guard.
func NewWriter(index Indexer, logger *logging.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := writerConfig{
		queueSize:    defaultQueueSize,
		workers:      defaultWriterCount,
		indexTimeout: defaultIndexTimeout,
		warmInterval: defaultWarmInterval,
		warnAfter:    defaultWarnAfter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Writer{
		index:        index,
		logger:       logger,
		cfg:          cfg,
		jobs:         make(chan job, cfg.queueSize),
		warmInFlight: make(map[string]struct{}),
		warmDone:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// Start launches the consumer goroutines until ctx is cancelled.
func (w *Writer) Start(ctx context.Context) {
	if w.index == nil {
		return
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Wait blocks until all consumer goroutines exit.
func (w *Writer) Wait() {
	w.wg.Wait()
}

// Warm schedules a warmup for the clinic's index collection. At most one
// warmup is in flight per clinic, and completed warmups suppress new ones
// for the configured interval.
func (w *Writer) Warm(userID, clinicID string) {
	if w == nil || w.index == nil || clinicID == "" {
		return
	}
	w.warmMu.Lock()
	if _, busy := w.warmInFlight[clinicID]; busy {
		w.warmMu.Unlock()
		return
	}
	if done, ok := w.warmDone[clinicID]; ok && w.now().Sub(done) < w.cfg.warmInterval {
		w.warmMu.Unlock()
		return
	}
	w.warmInFlight[clinicID] = struct{}{}
	w.warmMu.Unlock()

	if !w.enqueue(job{kind: jobWarmup, userID: userID, clinicID: clinicID}) {
		w.warmMu.Lock()
		delete(w.warmInFlight, clinicID)
		w.warmMu.Unlock()
	}
}

// RecordTurn schedules indexing of one user/assistant exchange.
func (w *Writer) RecordTurn(sessionID, userID, clinicID, userText, assistantText string) {
	if w == nil || w.index == nil {
		return
	}
	w.enqueue(job{
		kind:          jobTurn,
		sessionID:     sessionID,
		userID:        userID,
		clinicID:      clinicID,
		userText:      userText,
		assistantText: assistantText,
	})
}

// RecordMessage schedules indexing of a single message.
func (w *Writer) RecordMessage(sessionID, userID, clinicID, role, text string) {
	if w == nil || w.index == nil {
		return
	}
	w.enqueue(job{
		kind:      jobMessage,
		sessionID: sessionID,
		userID:    userID,
		clinicID:  clinicID,
		role:      role,
		text:      text,
	})
}

func (w *Writer) enqueue(j job) bool {
	select {
	case w.jobs <- j:
		w.cfg.metrics.SetQueueSize(len(w.jobs))
		w.cfg.recorder.SetQueueSize(len(w.jobs))
		return true
	default:
		w.cfg.metrics.ObserveDrop(string(j.kind))
		w.cfg.recorder.ObserveDrop()
		w.logger.Warn("memory writer queue full, dropping job",
			"kind", string(j.kind),
			"clinic_id", j.clinicID,
		)
		return false
	}
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			w.process(ctx, j)
		}
	}
}

func (w *Writer) process(ctx context.Context, j job) {
	start := w.now()
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.indexTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobWarmup:
		err = w.index.Warm(callCtx, j.userID, j.clinicID)
		w.warmMu.Lock()
		delete(w.warmInFlight, j.clinicID)
		if err == nil {
			w.warmDone[j.clinicID] = w.now()
		}
		w.warmMu.Unlock()
	case jobTurn:
		err = w.index.AddTurn(callCtx, TurnRecord{
			SessionID:     j.sessionID,
			UserID:        j.userID,
			ClinicID:      j.clinicID,
			UserText:      j.userText,
			AssistantText: j.assistantText,
		})
	case jobMessage:
		err = w.index.AddMessage(callCtx, MessageRecord{
			SessionID: j.sessionID,
			UserID:    j.userID,
			ClinicID:  j.clinicID,
			Role:      j.role,
			Text:      j.text,
		})
	}

	latency := w.now().Sub(start)
	breached := latency > w.cfg.warnAfter
	result := "ok"
	if err != nil {
		result = "error"
		w.logger.Warn("memory index write failed",
			"kind", string(j.kind),
			"clinic_id", j.clinicID,
			"error", err,
		)
	}
	w.cfg.metrics.ObserveJob(string(j.kind), result, latency, breached)
	w.cfg.metrics.SetQueueSize(len(w.jobs))
	w.cfg.recorder.Observe(latency, breached)
	w.cfg.recorder.SetQueueSize(len(w.jobs))
	if breached {
		w.logger.Warn("memory index write was slow",
			"kind", string(j.kind),
			"latency_ms", latency.Milliseconds(),
		)
	}
}
