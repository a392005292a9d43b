package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Enqueuer appends outbound messages to per-instance streams. Enqueue is
// idempotent on message_id: a duplicate within the idempotency TTL is dropped
// without touching the stream.
type Enqueuer struct {
	client  *redis.Client
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.EgressMetrics
}

func NewEnqueuer(client *redis.Client, cfg Config, logger *logging.Logger, m *metrics.EgressMetrics) *Enqueuer {
	if client == nil {
		panic("wa: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Enqueuer{
		client:  client,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Enqueue appends one message to the instance stream. It reports true when
// the message was appended and false when the message_id was already claimed
// within the idempotency window.
func (e *Enqueuer) Enqueue(ctx context.Context, instance string, msg OutboundMessage) (bool, error) {
	if strings.TrimSpace(instance) == "" {
		return false, fmt.Errorf("wa: instance required")
	}
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Text) == "" {
		return false, fmt.Errorf("wa: to and text required")
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.QueuedAt == 0 {
		msg.QueuedAt = time.Now().Unix()
	}

	claimed, err := e.client.SetNX(ctx, idempotencyKey(msg.MessageID), "1", e.cfg.IdempotencyTTL).Result()
	if err != nil {
		e.observeEnqueue(instance, "error")
		return false, fmt.Errorf("wa: claim message id: %w", err)
	}
	if !claimed {
		e.logger.Debug("wa: duplicate enqueue suppressed", "instance", instance, "message_id", msg.MessageID)
		e.observeEnqueue(instance, "duplicate")
		return false, nil
	}

	payload, err := msg.encode()
	if err != nil {
		e.observeEnqueue(instance, "error")
		return false, err
	}
	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(instance),
		MaxLen: e.cfg.MaxStreamLen,
		Approx: true,
		Values: map[string]any{streamField: payload},
	}).Err()
	if err != nil {
		// Release the claim so the caller's retry can re-enqueue.
		if delErr := e.client.Del(ctx, idempotencyKey(msg.MessageID)).Err(); delErr != nil {
			e.logger.Warn("wa: failed to release idempotency claim", "message_id", msg.MessageID, "error", delErr)
		}
		e.observeEnqueue(instance, "error")
		return false, fmt.Errorf("wa: append to stream: %w", err)
	}

	e.logger.Debug("wa: message enqueued", "instance", instance, "message_id", msg.MessageID, "to", msg.To)
	e.observeEnqueue(instance, "queued")
	return true, nil
}

// QueueDepth reports the current stream length for an instance.
func (e *Enqueuer) QueueDepth(ctx context.Context, instance string) (int64, error) {
	depth, err := e.client.XLen(ctx, StreamKey(instance)).Result()
	if err != nil {
		return 0, fmt.Errorf("wa: stream length: %w", err)
	}
	return depth, nil
}

func (e *Enqueuer) observeEnqueue(instance, result string) {
	if e.metrics != nil {
		e.metrics.ObserveEnqueue(instance, result)
	}
}
