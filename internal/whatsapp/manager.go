package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Manager runs one consumer loop per tenant instance and follows the
// discovery channels so new instances start consuming without a restart.
type Manager struct {
	client  *redis.Client
	sender  Sender
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.EgressMetrics
	bucket  *tokenBucket

	mu      sync.Mutex
	workers map[string]*runningWorker
}

type runningWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
	orgID  string
}

func NewManager(client *redis.Client, sender Sender, cfg Config, logger *logging.Logger, m *metrics.EgressMetrics) *Manager {
	if client == nil {
		panic("wa: redis client cannot be nil")
	}
	if sender == nil {
		panic("wa: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		client:  client,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		bucket:  newTokenBucket(client, cfg.TokensPerSecond, cfg.BucketCapacity, m),
		workers: make(map[string]*runningWorker),
	}
}

// Run starts workers for the initial instances, then follows the discovery
// channels until ctx ends. On shutdown every worker drains its in-flight
// sends before Run returns.
func (m *Manager) Run(ctx context.Context, initial []InstanceEvent) error {
	for _, evt := range initial {
		m.StartInstance(ctx, evt.InstanceName, evt.OrganizationID)
	}

	sub := m.client.Subscribe(ctx, ChannelInstanceAdded, ChannelInstanceRemoved)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				m.stopAll()
				return errors.New("wa: discovery subscription closed")
			}
			m.handleEvent(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, channel, payload string) {
	var evt InstanceEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		m.logger.Error("wa: malformed instance event", "channel", channel, "error", err)
		return
	}
	if strings.TrimSpace(evt.InstanceName) == "" {
		m.logger.Warn("wa: instance event without instance_name", "channel", channel)
		return
	}
	switch channel {
	case ChannelInstanceAdded:
		m.StartInstance(ctx, evt.InstanceName, evt.OrganizationID)
	case ChannelInstanceRemoved:
		m.StopInstance(evt.InstanceName)
	}
}

// StartInstance launches a consumer loop for the instance. Starting an
// already-running instance is a no-op.
func (m *Manager) StartInstance(ctx context.Context, instance, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.workers[instance]; running {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	worker := newInstanceWorker(m.client, m.sender, m.bucket, m.cfg, instance, m.logger, m.metrics)
	rw := &runningWorker{cancel: cancel, done: make(chan struct{}), orgID: orgID}
	m.workers[instance] = rw

	go func() {
		defer close(rw.done)
		worker.run(wctx)
	}()
	m.logger.Info("wa: instance worker started", "instance", instance, "organization_id", orgID)
}

// StopInstance cancels the instance loop and blocks until in-flight sends
// have drained.
func (m *Manager) StopInstance(instance string) {
	m.mu.Lock()
	rw, running := m.workers[instance]
	if running {
		delete(m.workers, instance)
	}
	m.mu.Unlock()
	if !running {
		return
	}

	rw.cancel()
	<-rw.done
	m.logger.Info("wa: instance worker stopped", "instance", instance)
}

// Instances lists currently running instance names, sorted.
func (m *Manager) Instances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	stopping := make(map[string]*runningWorker, len(m.workers))
	for name, rw := range m.workers {
		stopping[name] = rw
		delete(m.workers, name)
	}
	m.mu.Unlock()

	for name, rw := range stopping {
		rw.cancel()
		<-rw.done
		m.logger.Info("wa: instance worker stopped", "instance", name)
	}
}

// PublishInstanceEvent announces an instance lifecycle change to every
// worker process.
func PublishInstanceEvent(ctx context.Context, client *redis.Client, evt InstanceEvent) error {
	if strings.TrimSpace(evt.InstanceName) == "" {
		return fmt.Errorf("wa: instance_name required")
	}
	channel := ""
	switch evt.Action {
	case "added":
		channel = ChannelInstanceAdded
	case "removed":
		channel = ChannelInstanceRemoved
	default:
		return fmt.Errorf("wa: unknown instance action %q", evt.Action)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("wa: marshal instance event: %w", err)
	}
	if err := client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("wa: publish instance event: %w", err)
	}
	return nil
}
