package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// Processor handles one decoded inbound turn. *Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, turn InboundTurn) (*TurnResult, error)
}

// ProcessedStore remembers which inbound events have already been handled.
// MarkProcessed returns false when the event ID was seen before, so a
// redelivered queue message is dropped instead of producing a second reply.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// turnJob is the queue envelope around an inbound turn.
type turnJob struct {
	ID          string      `json:"id"`
	Turn        InboundTurn `json:"turn"`
	TrackStatus bool        `json:"track_status"`
}

// Ingress publishes inbound turns onto the work queue and records them as
// pending so the API can answer status polls while the worker is busy.
type Ingress struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

// NewIngress builds a producer. jobs may be nil, in which case turns are
// fire-and-forget and Submit skips status tracking.
func NewIngress(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Ingress {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingress{queue: queue, jobs: jobs, logger: logger}
}

// Submit assigns the turn a job ID, records it as pending and enqueues it.
// It returns the job ID the caller can poll for status.
func (i *Ingress) Submit(ctx context.Context, turn InboundTurn) (string, error) {
	if strings.TrimSpace(turn.Instance) == "" {
		return "", errors.New("conversation: instance is required")
	}
	if strings.TrimSpace(turn.From) == "" {
		return "", errors.New("conversation: sender is required")
	}
	if turn.JobID == "" {
		turn.JobID = uuid.NewString()
	}
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = time.Now().UTC()
	}

	tracked := i.jobs != nil
	if tracked {
		record := &TurnJobRecord{
			JobID:             turn.JobID,
			Instance:          turn.Instance,
			From:              turn.From,
			Text:              turn.Text,
			ProviderMessageID: turn.ProviderMessageID,
		}
		if err := i.jobs.PutPending(ctx, record); err != nil {
			// The turn still goes through; only status polling degrades.
			i.logger.Warn("failed to record pending job", "error", err, "job_id", turn.JobID)
			tracked = false
		}
	}

	body, err := json.Marshal(turnJob{ID: turn.JobID, Turn: turn, TrackStatus: tracked})
	if err != nil {
		return "", fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	if err := i.queue.Send(ctx, string(body)); err != nil {
		return "", fmt.Errorf("conversation: failed to enqueue turn: %w", err)
	}
	return turn.JobID, nil
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobs             JobUpdater
	processed        ProcessedStore
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the queue long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobUpdater wires job status persistence for tracked turns.
func WithJobUpdater(jobs JobUpdater) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.jobs = jobs
	}
}

// WithProcessedStore wires an idempotency store keyed by provider message ID.
func WithProcessedStore(store ProcessedStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// Worker consumes turn jobs from the queue and invokes the processor.
type Worker struct {
	processor Processor
	queue     queueClient
	jobs      JobUpdater
	processed ProcessedStore
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker constructs a queue consumer around the provided processor.
func NewWorker(processor Processor, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      cfg.jobs,
		processed: cfg.processed,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("turn worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("turn worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive turn jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var job turnJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("failed to decode turn job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	if job.Turn.JobID == "" {
		job.Turn.JobID = job.ID
	}

	if w.isDuplicate(ctx, job) {
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	w.logger.Info("processing turn",
		"job_id", job.ID,
		"instance", job.Turn.Instance,
		"msg_id", msg.ID,
	)

	result, err := w.processor.Process(ctx, job.Turn)
	if err != nil {
		w.logger.Error("turn failed", "error", err, "job_id", job.ID)
		if job.TrackStatus && w.jobs != nil {
			if storeErr := w.jobs.MarkFailed(ctx, job.ID, err.Error()); storeErr != nil {
				w.logger.Error("failed to update job status", "error", storeErr, "job_id", job.ID)
			}
		}
	} else {
		w.logger.Debug("turn processed", "job_id", job.ID)
		if job.TrackStatus && w.jobs != nil {
			if storeErr := w.jobs.MarkCompleted(ctx, job.ID, result); storeErr != nil {
				w.logger.Error("failed to update job status", "error", storeErr, "job_id", job.ID)
			}
		}
	}

	w.deleteMessage(msg.ReceiptHandle)
}

// isDuplicate consults the processed-event store. Dedup keys on the provider
// message ID when the channel supplied one, otherwise on the job ID, so a
// webhook retried by the provider and a queue redelivery both collapse to a
// single processed turn.
func (w *Worker) isDuplicate(ctx context.Context, job turnJob) bool {
	if w.processed == nil {
		return false
	}
	key := strings.TrimSpace(job.Turn.ProviderMessageID)
	if key == "" {
		key = job.ID
	}
	if key == "" {
		return false
	}
	fresh, err := w.processed.MarkProcessed(ctx, key)
	if err != nil {
		// Better to risk a duplicate reply than to drop a patient message.
		w.logger.Warn("processed-event check failed", "error", err, "job_id", job.ID)
		return false
	}
	if !fresh {
		w.logger.Info("skipping duplicate turn", "job_id", job.ID, "event_id", key)
		return true
	}
	return false
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	// A fresh context so a cancelled worker still acknowledges handled work.
	deleteCtx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete turn job", "error", err)
	}
}
