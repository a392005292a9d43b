package whatsapp

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Config carries the tunables for egress workers. Zero values fall back to
// the defaults below, which match the provider's published rate guidance.
type Config struct {
	// Group is the consumer group name shared by every worker process.
	Group string
	// ConsumerID uniquely names this process's consumer within the group.
	ConsumerID string

	ReadCount    int64
	ReadBlock    time.Duration
	ClaimMinIdle time.Duration

	MaxDeliveries int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration

	// Concurrency bounds in-flight sends per instance.
	Concurrency int64

	// OptimisticSend skips the connection-state probe before each send.
	OptimisticSend bool
	ConnStateTTL   time.Duration

	// SendPresence emits a best-effort "composing" signal before each text.
	SendPresence bool
	// IdleSleepBase pads the loop after an empty read so a zero ReadBlock
	// cannot spin against Redis.
	IdleSleepBase time.Duration

	TokensPerSecond float64
	BucketCapacity  int

	MaxStreamLen   int64
	IdempotencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.ConsumerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		c.ConsumerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 32
	}
	if c.ReadBlock <= 0 {
		c.ReadBlock = 250 * time.Millisecond
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 15 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ConnStateTTL <= 0 {
		c.ConnStateTTL = 3 * time.Second
	}
	if c.IdleSleepBase <= 0 {
		c.IdleSleepBase = 50 * time.Millisecond
	}
	if c.TokensPerSecond <= 0 {
		c.TokensPerSecond = 1
	}
	if c.BucketCapacity <= 0 {
		c.BucketCapacity = 5
	}
	if c.MaxStreamLen <= 0 {
		c.MaxStreamLen = 10_000
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return c
}
