package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/internal/whatsapp/evolution"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Sender is the subset of the Evolution client the worker needs.
type Sender interface {
	SendText(ctx context.Context, instance string, req evolution.SendTextRequest) (*evolution.SendResponse, error)
	SendPresence(ctx context.Context, instance string, req evolution.PresenceRequest) error
	ConnectionState(ctx context.Context, instance string) (string, error)
}

const (
	dlqErrMaxDeliveries = "max_deliveries_exceeded"
	dlqErrJSONDecode    = "json_decode_error"

	depthRefreshInterval = 5 * time.Second
)

// instanceWorker owns one consumer in the group for a single instance
// stream. Delivery is at-least-once: entries stay pending until acked, and a
// reclaim pass adopts entries from consumers that died mid-flight.
type instanceWorker struct {
	client   *redis.Client
	sender   Sender
	bucket   *tokenBucket
	cfg      Config
	instance string
	logger   *logging.Logger
	metrics  *metrics.EgressMetrics
	sem      *semaphore.Weighted

	claimCursor string
	lastDepth   time.Time

	connMu      sync.Mutex
	connState   string
	connChecked time.Time

	wg sync.WaitGroup
}

func newInstanceWorker(client *redis.Client, sender Sender, bucket *tokenBucket, cfg Config, instance string, logger *logging.Logger, m *metrics.EgressMetrics) *instanceWorker {
	return &instanceWorker{
		client:      client,
		sender:      sender,
		bucket:      bucket,
		cfg:         cfg,
		instance:    instance,
		logger:      logger.With("instance", instance),
		metrics:     m,
		sem:         semaphore.NewWeighted(cfg.Concurrency),
		claimCursor: "0-0",
	}
}

// run consumes the instance stream until ctx is cancelled, then waits for
// in-flight sends to drain.
func (w *instanceWorker) run(ctx context.Context) {
	defer w.wg.Wait()

	if err := w.ensureGroup(ctx); err != nil {
		w.logger.Error("wa: ensure consumer group failed", "error", err)
	}
	w.logger.Info("wa: egress worker started", "consumer", w.cfg.ConsumerID)

	errSleep := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("wa: egress worker stopping")
			return
		default:
		}

		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("wa: egress loop error", "error", err)
			if sleepCtx(ctx, errSleep) != nil {
				return
			}
			if errSleep < 5*time.Second {
				errSleep *= 2
			}
			// A transient disconnect may have raced group creation.
			if err := w.ensureGroup(ctx); err != nil {
				w.logger.Warn("wa: re-ensure consumer group failed", "error", err)
			}
			continue
		}
		errSleep = time.Second
	}
}

// ensureGroup creates the consumer group at the stream tail. Entries that
// predate the group are deliberately not replayed.
func (w *instanceWorker) ensureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, StreamKey(w.instance), w.cfg.Group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("wa: create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (w *instanceWorker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	messages, err := w.reclaim(ctx)
	if err != nil {
		w.logger.Warn("wa: reclaim pass failed", "error", err)
	}
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		if w.cfg.IdleSleepBase <= 0 {
			return nil
		}
		return sleepCtx(ctx, w.cfg.IdleSleepBase)
	}

	for _, entry := range messages {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		w.wg.Add(1)
		go func(entry redis.XMessage) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.process(ctx, entry)
		}(entry)
	}
	return nil
}

// reclaim adopts pending entries whose consumer has been idle past the
// threshold. The cursor persists across calls so long pending lists are
// walked incrementally.
func (w *instanceWorker) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	messages, start, err := w.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey(w.instance),
		Group:    w.cfg.Group,
		Consumer: w.cfg.ConsumerID,
		MinIdle:  w.cfg.ClaimMinIdle,
		Start:    w.claimCursor,
		Count:    w.cfg.ReadCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("wa: xautoclaim: %w", err)
	}
	if start != "" {
		w.claimCursor = start
	}
	return messages, nil
}

func (w *instanceWorker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.ConsumerID,
		Streams:  []string{StreamKey(w.instance), ">"},
		Count:    w.cfg.ReadCount,
		Block:    w.cfg.ReadBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("wa: xreadgroup: %w", err)
	}
	var out []redis.XMessage
	for _, stream := range streams {
		out = append(out, stream.Messages...)
	}
	return out, nil
}

func (w *instanceWorker) process(ctx context.Context, entry redis.XMessage) {
	msg, raw, err := decodeOutbound(entry.Values)
	if err != nil {
		w.logger.Error("wa: malformed queue entry", "entry_id", entry.ID, "error", err)
		w.deadLetterRaw(ctx, entry.ID, raw, dlqErrJSONDecode)
		return
	}

	if err := w.bucket.Take(ctx, w.instance); err != nil {
		// Cancelled mid-wait. The entry stays pending and is adopted by the
		// next reclaim pass.
		return
	}

	if !w.cfg.OptimisticSend && !w.connectionOpen(ctx) {
		w.logger.Warn("wa: instance not connected, delaying send", "message_id", msg.MessageID)
		w.requeueAfter(ctx, entry.ID, msg, "instance not connected", w.cfg.BaseBackoff)
		return
	}

	if w.cfg.SendPresence {
		// Best-effort typing indicator; a failure must not cost a delivery.
		if err := w.sender.SendPresence(ctx, w.instance, evolution.PresenceRequest{
			Number:   msg.To,
			Presence: evolution.PresenceComposing,
		}); err != nil {
			w.logger.Debug("wa: presence signal failed", "message_id", msg.MessageID, "error", err)
		}
	}

	start := time.Now()
	resp, err := w.sender.SendText(ctx, w.instance, evolution.SendTextRequest{
		Number: msg.To,
		Text:   msg.Text,
	})
	elapsed := time.Since(start)
	if err != nil {
		if w.metrics != nil {
			w.metrics.ObserveDelivery(w.instance, "error", elapsed.Seconds())
		}
		w.handleFailure(ctx, entry.ID, msg, err)
		return
	}

	if w.metrics != nil {
		w.metrics.ObserveDelivery(w.instance, "ok", elapsed.Seconds())
	}
	providerID := ""
	if resp != nil {
		providerID = resp.Key.ID
	}
	w.logger.Info("wa: message delivered",
		"message_id", msg.MessageID,
		"to", msg.To,
		"attempts", msg.Attempts+1,
		"provider_message_id", providerID,
	)
	w.ackDelete(ctx, entry.ID)
}

// handleFailure increments attempts and either re-appends the message as a
// fresh entry after backoff or dead-letters it once deliveries are exhausted.
func (w *instanceWorker) handleFailure(ctx context.Context, entryID string, msg OutboundMessage, sendErr error) {
	msg.Attempts++
	msg.LastError = sendErr.Error()

	if msg.Attempts >= w.cfg.MaxDeliveries {
		w.logger.Error("wa: deliveries exhausted, dead-lettering",
			"message_id", msg.MessageID,
			"attempts", msg.Attempts,
			"error", sendErr,
		)
		w.deadLetter(ctx, entryID, msg, dlqErrMaxDeliveries)
		return
	}

	delay := backoffDelay(w.cfg.BaseBackoff, w.cfg.MaxBackoff, msg.Attempts)
	w.logger.Warn("wa: send failed, scheduling retry",
		"message_id", msg.MessageID,
		"attempts", msg.Attempts,
		"backoff", delay,
		"error", sendErr,
	)
	w.requeueAfter(ctx, entryID, msg, msg.LastError, delay)
}

// requeueAfter acks the current entry and re-appends the payload as a fresh
// entry once the delay has passed, so the pending list never accumulates
// retry state.
func (w *instanceWorker) requeueAfter(ctx context.Context, entryID string, msg OutboundMessage, lastError string, delay time.Duration) {
	if delay > 0 {
		if sleepCtx(ctx, delay) != nil {
			// Leave the entry pending: the reclaim pass re-delivers it after
			// the idle threshold, preserving at-least-once.
			return
		}
	}
	msg.LastError = lastError

	w.ackDelete(ctx, entryID)

	payload, err := msg.encode()
	if err != nil {
		w.logger.Error("wa: re-encode for requeue failed", "message_id", msg.MessageID, "error", err)
		return
	}
	err = w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(w.instance),
		MaxLen: w.cfg.MaxStreamLen,
		Approx: true,
		Values: map[string]any{streamField: payload},
	}).Err()
	if err != nil {
		w.logger.Error("wa: requeue append failed", "message_id", msg.MessageID, "error", err)
	}
}

func (w *instanceWorker) deadLetter(ctx context.Context, entryID string, msg OutboundMessage, finalError string) {
	payload, err := msg.encode()
	if err != nil {
		w.logger.Error("wa: encode for dlq failed", "message_id", msg.MessageID, "error", err)
		payload = ""
	}
	w.appendDLQ(ctx, map[string]any{
		streamField:   payload,
		"final_error": finalError,
		"failed_at":   time.Now().Unix(),
	})
	w.ackDelete(ctx, entryID)
	if w.metrics != nil {
		w.metrics.ObserveDLQ(w.instance, finalError)
	}
}

// deadLetterRaw routes an undecodable payload to the DLQ verbatim. These are
// never retried.
func (w *instanceWorker) deadLetterRaw(ctx context.Context, entryID, raw, reason string) {
	w.appendDLQ(ctx, map[string]any{
		streamField: raw,
		"error":     reason,
		"failed_at": time.Now().Unix(),
	})
	w.ackDelete(ctx, entryID)
	if w.metrics != nil {
		w.metrics.ObserveDLQ(w.instance, reason)
	}
}

func (w *instanceWorker) appendDLQ(ctx context.Context, values map[string]any) {
	err := w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQKey(w.instance),
		Values: values,
	}).Err()
	if err != nil {
		w.logger.Error("wa: dlq append failed", "error", err)
	}
}

func (w *instanceWorker) ackDelete(ctx context.Context, entryID string) {
	if err := w.client.XAck(ctx, StreamKey(w.instance), w.cfg.Group, entryID).Err(); err != nil {
		w.logger.Error("wa: xack failed", "entry_id", entryID, "error", err)
	}
	if err := w.client.XDel(ctx, StreamKey(w.instance), entryID).Err(); err != nil {
		w.logger.Error("wa: xdel failed", "entry_id", entryID, "error", err)
	}
}

// connectionOpen probes the gateway connection state through a short TTL
// cache so a read burst does not hammer the status endpoint.
func (w *instanceWorker) connectionOpen(ctx context.Context) bool {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	if time.Since(w.connChecked) < w.cfg.ConnStateTTL && w.connState != "" {
		return w.connState == evolution.StateOpen
	}

	state, err := w.sender.ConnectionState(ctx, w.instance)
	if err != nil {
		w.logger.Warn("wa: connection state probe failed", "error", err)
		// Fail open: the send itself reports the real error.
		return true
	}
	w.connState = state
	w.connChecked = time.Now()
	return state == evolution.StateOpen
}

func (w *instanceWorker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	if !w.lastDepth.IsZero() && time.Since(w.lastDepth) < depthRefreshInterval {
		return
	}
	w.lastDepth = time.Now()
	depth, err := w.client.XLen(ctx, StreamKey(w.instance)).Result()
	if err != nil {
		return
	}
	w.metrics.SetQueueDepth(w.instance, depth)
}

// backoffDelay is exponential in the attempt count with ±25% jitter.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base << (attempts - 1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}
