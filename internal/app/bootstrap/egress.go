package bootstrap

import (
	"fmt"
	"time"

	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/internal/whatsapp/evolution"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// BuildEvolutionClient returns the WhatsApp gateway client. The gateway is
// required for any process that sends, so missing configuration is an error
// rather than a degradation.
func BuildEvolutionClient(cfg *appconfig.Config, logger *logging.Logger) (*evolution.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	client, err := evolution.New(evolution.Config{
		BaseURL: cfg.EvolutionAPIURL,
		APIKey:  cfg.EvolutionAPIKey,
		Timeout: cfg.EvolutionHTTPTimeout,
		Logger:  logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: evolution client: %w", err)
	}
	return client, nil
}

// BuildEgressConfig maps the WA_* tunables onto the stream worker config.
// Zero values fall through to the worker defaults.
func BuildEgressConfig(cfg *appconfig.Config) whatsapp.Config {
	if cfg == nil {
		return whatsapp.Config{}
	}
	return whatsapp.Config{
		Group:           cfg.WAConsumerGroup,
		ReadCount:       int64(cfg.WAReadCount),
		ReadBlock:       time.Duration(cfg.WAReadBlockMS) * time.Millisecond,
		ClaimMinIdle:    cfg.WAStreamClaimIdle,
		MaxDeliveries:   cfg.WAMaxDeliveries,
		BaseBackoff:     cfg.WABaseBackoff,
		MaxBackoff:      cfg.WAMaxBackoff,
		Concurrency:     int64(cfg.WAWorkerConcurrency),
		OptimisticSend:  cfg.WAOptimisticSend,
		ConnStateTTL:    cfg.WACheckConnTTL,
		TokensPerSecond: cfg.WATokensPerSecond,
		BucketCapacity:  cfg.WABucketCapacity,
		IdleSleepBase:   cfg.WAIdleSleepBase,
		SendPresence:    cfg.WASendPresence,
	}
}
