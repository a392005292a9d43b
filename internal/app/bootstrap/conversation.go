package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/internal/langgraph"
	"github.com/brightline-ai/concierge/internal/memory"
	"github.com/brightline-ai/concierge/internal/notify"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// BuildLLMClient wires the Bedrock-primary, Gemini-fallback generation
// chain. Both sides are optional; with neither configured the pipeline
// answers from templates and fallbacks only.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var primary conversation.LLMClient
	if strings.TrimSpace(cfg.BedrockModelID) != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		primary = conversation.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		logger.Info("bedrock llm client ready", "model", cfg.BedrockModelID)
	}

	var fallback conversation.LLMClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			fallback = gemini
			logger.Info("gemini llm client ready", "model", cfg.GeminiModel)
		}
	}

	switch {
	case primary != nil && fallback != nil:
		return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
	case primary != nil:
		return primary, nil
	case fallback != nil:
		return fallback, nil
	default:
		logger.Warn("no llm configured; turns fall back to templated replies")
		return nil, nil
	}
}

// BuildLaneRunner returns the graph orchestrator client, or nil when
// LANGGRAPH_URL is not set.
func BuildLaneRunner(cfg *appconfig.Config, logger *logging.Logger) conversation.LaneRunner {
	if cfg == nil || strings.TrimSpace(cfg.LangGraphURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	client, err := langgraph.NewClient(langgraph.Config{
		BaseURL: cfg.LangGraphURL,
		APIKey:  cfg.LangGraphAPIKey,
		Timeout: cfg.LangGraphTimeout,
	})
	if err != nil {
		logger.Warn("langgraph client unavailable", "error", err)
		return nil
	}
	logger.Info("langgraph lanes enabled", "url", cfg.LangGraphURL)
	return client
}

// BuildJobStore returns the DynamoDB-backed job record store, or nil when
// no table is configured. awsCfg should come from mainconfig so LocalStack
// endpoint overrides apply.
func BuildJobStore(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) *conversation.JobStore {
	if cfg == nil || strings.TrimSpace(cfg.ConversationJobsTable) == "" {
		return nil
	}
	return conversation.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.ConversationJobsTable, logger)
}

// Memory bundles the long-term memory components a worker process runs.
type Memory struct {
	Recall   *memory.Recall
	Writer   *memory.Writer
	Recorder *memory.Recorder
}

// BuildMemory wires the Postgres summary store, the optional remote index,
// and the async writer. Returns nil without a database pool; memory then
// stays out of the prompt entirely.
func BuildMemory(cfg *appconfig.Config, pool *pgxpool.Pool, m *metrics.MemoryMetrics, logger *logging.Logger) *Memory {
	if cfg == nil || pool == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	store := memory.NewSearchStore(pool)

	var index memory.Indexer
	if strings.TrimSpace(cfg.Mem0URL) != "" {
		client, err := memory.NewIndexClient(memory.IndexConfig{
			BaseURL: cfg.Mem0URL,
			APIKey:  cfg.Mem0APIKey,
			Timeout: cfg.Mem0Timeout,
		})
		if err != nil {
			logger.Warn("memory index unavailable", "error", err)
		} else {
			index = client
			logger.Info("memory index enabled",
				"reads_enabled", cfg.Mem0ReadsEnabled,
				"shadow_mode", cfg.Mem0ShadowMode,
			)
		}
	}

	recall := memory.NewRecall(store, index, memory.RecallConfig{
		ReadsEnabled:     cfg.Mem0ReadsEnabled,
		ShadowMode:       cfg.Mem0ShadowMode,
		CanarySampleRate: cfg.CanarySampleRate,
		Timeout:          cfg.Mem0Timeout,
	}, logger)

	recorder := memory.NewRecorder()
	writer := memory.NewWriter(index, logger,
		memory.WithIndexTimeout(cfg.Mem0Timeout),
		memory.WithWriterMetrics(m),
		memory.WithWriterRecorder(recorder),
	)

	return &Memory{Recall: recall, Writer: writer, Recorder: recorder}
}

// BuildNotifier wires operator escalation alerts: WhatsApp through the
// egress enqueuer plus email when a sender is configured. SES is primary
// and SendGrid the fallback; with only one configured that one is used
// alone.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, outbound notify.Outbound, logger *logging.Logger) *notify.Service {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var sesSender, sgSender notify.EmailSender
	if strings.TrimSpace(cfg.NotifyEmailFrom) != "" {
		region := strings.TrimSpace(cfg.SESRegion)
		if region == "" {
			region = cfg.AWSRegion
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			logger.Warn("ses email sender unavailable", "error", err)
		} else if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.NotifyEmailFrom,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			sesSender = s
			logger.Info("ses email sender ready", "region", region)
		}
	}
	if s := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.NotifyEmailFrom,
		FromName:  cfg.SendGridFromName,
	}, logger); s != nil {
		sgSender = s
		logger.Info("sendgrid email sender ready")
	}

	var email notify.EmailSender
	switch {
	case sesSender != nil && sgSender != nil:
		email = notify.NewFallbackSender(sesSender, sgSender, logger)
	case sesSender != nil:
		email = sesSender
	case sgSender != nil:
		email = sgSender
	}
	return notify.NewService(outbound, email, logger)
}
