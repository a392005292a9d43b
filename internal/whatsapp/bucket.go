package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/internal/observability/metrics"
)

var errBucketEmpty = errors.New("wa: token bucket empty")

// tokenBucket rate-limits sends per instance. State lives in Redis so every
// worker process draws from the same allowance. Consumption is an optimistic
// WATCH/MULTI/EXEC transaction; contention backs off and retries.
type tokenBucket struct {
	client   *redis.Client
	rate     float64
	capacity int
	metrics  *metrics.EgressMetrics
}

func newTokenBucket(client *redis.Client, rate float64, capacity int, m *metrics.EgressMetrics) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 5
	}
	return &tokenBucket{client: client, rate: rate, capacity: capacity, metrics: m}
}

// Take blocks until a token is consumed for the instance or ctx ends.
func (b *tokenBucket) Take(ctx context.Context, instance string) error {
	contention := 50 * time.Millisecond
	for {
		err := b.tryTake(ctx, instance)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errBucketEmpty):
			if b.metrics != nil {
				b.metrics.ObserveBucketWait(instance)
			}
			wait := time.Duration(float64(time.Second) / b.rate)
			if wait > time.Second {
				wait = time.Second
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		case errors.Is(err, redis.TxFailedErr):
			if err := sleepCtx(ctx, contention); err != nil {
				return err
			}
			contention *= 2
			if contention > time.Second {
				contention = time.Second
			}
		default:
			return err
		}
	}
}

// tryTake attempts a single consume. The refill is floor(elapsed * rate)
// capped at capacity; the timestamp only advances when a whole token was
// refilled so fractional progress is never lost.
func (b *tokenBucket) tryTake(ctx context.Context, instance string) error {
	key := bucketKey(instance)
	tsKey := bucketTSKey(instance)
	return b.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now()
		ts := now

		count, err := tx.Get(ctx, key).Int()
		init := errors.Is(err, redis.Nil)
		if err != nil && !init {
			return fmt.Errorf("wa: read bucket: %w", err)
		}

		if init {
			count = b.capacity
		} else {
			lastMS, tsErr := tx.Get(ctx, tsKey).Int64()
			if tsErr != nil && !errors.Is(tsErr, redis.Nil) {
				return fmt.Errorf("wa: read bucket ts: %w", tsErr)
			}
			if tsErr == nil {
				last := time.UnixMilli(lastMS)
				refill := int(now.Sub(last).Seconds() * b.rate)
				if refill > 0 {
					count += refill
					if count > b.capacity {
						count = b.capacity
					}
				} else {
					ts = last
				}
			}
		}

		if count <= 0 {
			return errBucketEmpty
		}
		count--

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, count, 0)
			pipe.Set(ctx, tsKey, ts.UnixMilli(), 0)
			return nil
		})
		return err
	}, key, tsKey)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
