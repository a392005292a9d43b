package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// Health issue tags.
const (
	IssueNoActiveConsumers      = "NO_ACTIVE_CONSUMERS"
	IssueHighQueueDepth         = "HIGH_QUEUE_DEPTH"
	IssuePendingWithoutConsumer = "PENDING_WITHOUT_CONSUMER"
	IssueHighDLQDepth           = "HIGH_DLQ_DEPTH"
	issueStuckConsumerPrefix    = "STUCK_CONSUMER_"
)

// AdminConfig tunes the health report thresholds.
type AdminConfig struct {
	Group             string
	HighQueueDepth    int64
	HighDLQDepth      int64
	StuckConsumerIdle time.Duration
}

func (c AdminConfig) withDefaults() AdminConfig {
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.HighQueueDepth <= 0 {
		c.HighQueueDepth = 1000
	}
	if c.HighDLQDepth <= 0 {
		c.HighDLQDepth = 100
	}
	if c.StuckConsumerIdle <= 0 {
		c.StuckConsumerIdle = 5 * time.Minute
	}
	return c
}

// Admin exposes recovery operations on instance streams. The outer HTTP
// layer is responsible for authentication.
type Admin struct {
	client *redis.Client
	cfg    AdminConfig
	logger *logging.Logger
}

func NewAdmin(client *redis.Client, cfg AdminConfig, logger *logging.Logger) *Admin {
	if client == nil {
		panic("wa: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Admin{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// ResetGroupToTail moves the group's last-delivered ID to the stream tail.
// Entries already in the stream will not be delivered again.
func (a *Admin) ResetGroupToTail(ctx context.Context, instance string) error {
	if err := a.client.XGroupSetID(ctx, StreamKey(instance), a.cfg.Group, "$").Err(); err != nil {
		return fmt.Errorf("wa: reset group to tail: %w", err)
	}
	a.logger.Info("wa: consumer group reset to tail", "instance", instance, "group", a.cfg.Group)
	return nil
}

// ResetGroupToHead moves the group's last-delivered ID to the stream head
// so every retained entry is redelivered.
func (a *Admin) ResetGroupToHead(ctx context.Context, instance string) error {
	if err := a.client.XGroupSetID(ctx, StreamKey(instance), a.cfg.Group, "0").Err(); err != nil {
		return fmt.Errorf("wa: reset group to head: %w", err)
	}
	a.logger.Info("wa: consumer group reset to head", "instance", instance, "group", a.cfg.Group)
	return nil
}

// RecreateGroup destroys the group, dropping its pending list, and recreates
// it at the tail. Used when the pending list is beyond repair.
func (a *Admin) RecreateGroup(ctx context.Context, instance string) error {
	// Destroy fails outright on a missing stream key, so make sure the
	// stream and group exist first.
	if err := a.client.XGroupCreateMkStream(ctx, StreamKey(instance), a.cfg.Group, "$").Err(); err != nil && !isBusyGroup(err) {
		return fmt.Errorf("wa: ensure group before recreate: %w", err)
	}
	if err := a.client.XGroupDestroy(ctx, StreamKey(instance), a.cfg.Group).Err(); err != nil && !isNoGroup(err) {
		return fmt.Errorf("wa: destroy group: %w", err)
	}
	if err := a.client.XGroupCreateMkStream(ctx, StreamKey(instance), a.cfg.Group, "$").Err(); err != nil && !isBusyGroup(err) {
		return fmt.Errorf("wa: recreate group: %w", err)
	}
	a.logger.Info("wa: consumer group recreated", "instance", instance, "group", a.cfg.Group)
	return nil
}

// ClaimPending transfers every pending entry idle past minIdle to the named
// consumer, walking the full pending list. It returns the number of entries
// claimed.
func (a *Admin) ClaimPending(ctx context.Context, instance, consumer string, minIdle time.Duration) (int, error) {
	if consumer == "" {
		return 0, fmt.Errorf("wa: consumer name required")
	}
	claimed := 0
	cursor := "0-0"
	for {
		messages, next, err := a.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKey(instance),
			Group:    a.cfg.Group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    cursor,
			Count:    128,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return claimed, fmt.Errorf("wa: bulk claim: %w", err)
		}
		claimed += len(messages)
		if next == "" || next == "0-0" {
			break
		}
		cursor = next
	}
	a.logger.Info("wa: pending entries claimed", "instance", instance, "consumer", consumer, "claimed", claimed)
	return claimed, nil
}

// ConsumerHealth describes one consumer in the group.
type ConsumerHealth struct {
	Name    string        `json:"name"`
	Pending int64         `json:"pending"`
	Idle    time.Duration `json:"idle"`
}

// HealthReport summarizes an instance's egress queue state.
type HealthReport struct {
	Instance      string           `json:"instance"`
	QueueDepth    int64            `json:"queue_depth"`
	DLQDepth      int64            `json:"dlq_depth"`
	PendingTotal  int64            `json:"pending_total"`
	ConsumerCount int              `json:"consumer_count"`
	Consumers     []ConsumerHealth `json:"consumers"`
	Issues        []string         `json:"issues"`
}

// Health inspects the instance stream, DLQ, and consumer group and tags any
// conditions that need operator attention.
func (a *Admin) Health(ctx context.Context, instance string) (*HealthReport, error) {
	report := &HealthReport{Instance: instance}

	depth, err := a.client.XLen(ctx, StreamKey(instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("wa: stream length: %w", err)
	}
	report.QueueDepth = depth

	dlqDepth, err := a.client.XLen(ctx, DLQKey(instance)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("wa: dlq length: %w", err)
	}
	report.DLQDepth = dlqDepth

	pending, err := a.client.XPending(ctx, StreamKey(instance), a.cfg.Group).Result()
	if err != nil && !isNoGroup(err) {
		return nil, fmt.Errorf("wa: pending summary: %w", err)
	}
	if pending != nil {
		report.PendingTotal = pending.Count
	}

	report.Consumers = a.consumerHealth(ctx, instance, pending)
	report.ConsumerCount = len(report.Consumers)
	report.Issues = healthIssues(report, a.cfg)
	return report, nil
}

// consumerHealth prefers XINFO CONSUMERS for idle times; when unavailable it
// falls back to the pending summary, which lists consumers but not idleness.
func (a *Admin) consumerHealth(ctx context.Context, instance string, pending *redis.XPending) []ConsumerHealth {
	infos, err := a.client.XInfoConsumers(ctx, StreamKey(instance), a.cfg.Group).Result()
	if err == nil {
		consumers := make([]ConsumerHealth, 0, len(infos))
		for _, info := range infos {
			consumers = append(consumers, ConsumerHealth{
				Name:    info.Name,
				Pending: info.Pending,
				Idle:    info.Idle,
			})
		}
		return consumers
	}
	a.logger.Debug("wa: consumer info unavailable, using pending summary", "instance", instance, "error", err)

	if pending == nil {
		return nil
	}
	consumers := make([]ConsumerHealth, 0, len(pending.Consumers))
	for name, count := range pending.Consumers {
		consumers = append(consumers, ConsumerHealth{Name: name, Pending: count})
	}
	return consumers
}

func healthIssues(report *HealthReport, cfg AdminConfig) []string {
	var issues []string

	active := 0
	for _, c := range report.Consumers {
		if c.Idle < cfg.StuckConsumerIdle {
			active++
		}
		if c.Pending > 0 && c.Idle >= cfg.StuckConsumerIdle {
			issues = append(issues, issueStuckConsumerPrefix+c.Name)
		}
	}

	if len(report.Consumers) == 0 && report.QueueDepth > 0 {
		issues = append(issues, IssueNoActiveConsumers)
	}
	if report.QueueDepth >= cfg.HighQueueDepth {
		issues = append(issues, IssueHighQueueDepth)
	}
	if report.PendingTotal > 0 && active == 0 && len(report.Consumers) > 0 {
		issues = append(issues, IssuePendingWithoutConsumer)
	}
	if report.DLQDepth >= cfg.HighDLQDepth {
		issues = append(issues, IssueHighDLQDepth)
	}
	return issues
}

// isNoGroup matches the NOGROUP reply Redis gives for a missing group or
// stream.
func isNoGroup(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, redis.Nil) || strings.HasPrefix(err.Error(), "NOGROUP")
}
