package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	AdminAPIToken  string
	UseMemoryQueue bool

	// Evolution API gateway
	EvolutionAPIURL      string
	EvolutionAPIKey      string
	EvolutionHTTPTimeout time.Duration

	// WhatsApp egress worker
	WAConsumerGroup     string
	WAMaxDeliveries     int
	WABaseBackoff       time.Duration
	WAMaxBackoff        time.Duration
	WATokensPerSecond   float64
	WABucketCapacity    int
	WAReadCount         int
	WAReadBlockMS       int
	WAStreamClaimIdle   time.Duration
	WAWorkerConcurrency int
	WAOptimisticSend    bool
	WACheckConnTTL      time.Duration
	WAIdleSleepBase     time.Duration
	WASendPresence      bool

	// Inbound conversation worker
	ConversationQueueURL    string
	ConversationJobsTable   string
	WorkerCount             int
	ConversationLogFailFast bool

	// LLM providers
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string
	LLMTimeout          time.Duration

	// External LangGraph orchestrator
	LangGraphURL     string
	LangGraphAPIKey  string
	LangGraphTimeout time.Duration

	// Memory layer (mem0-like index)
	Mem0URL          string
	Mem0APIKey       string
	Mem0Timeout      time.Duration
	Mem0ReadsEnabled bool
	Mem0ShadowMode   bool
	CanarySampleRate float64

	// Pipeline feature flags
	FastPathEnabled bool

	// Follow-up scheduler and session archiver
	FollowupInterval     time.Duration
	ArchiveBucket        string
	ArchiveIdleAfter     time.Duration
	ArchiveSweepInterval time.Duration

	// Operator email alerts
	NotifyEmailFrom  string
	SESRegion        string
	SendGridAPIKey   string
	SendGridFromName string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in first; absence is not an error.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AdminAPIToken:  getEnv("ADMIN_API_TOKEN", ""),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),

		EvolutionAPIURL:     strings.TrimRight(getEnv("EVOLUTION_API_URL", getEnv("EVOLUTION_SERVER_URL", "")), "/"),
		EvolutionAPIKey:     getEnv("EVOLUTION_API_KEY", ""),
		EvolutionHTTPTimeout: getEnvAsDuration("WA_EVOLUTION_HTTP_TIMEOUT", 15*time.Second),

		WAConsumerGroup:     getEnv("WA_CONSUMER_GROUP", "wa_workers"),
		WAMaxDeliveries:     getEnvAsInt("WA_MAX_DELIVERIES", 5),
		WABaseBackoff:       getEnvAsDuration("WA_BASE_BACKOFF", 2*time.Second),
		WAMaxBackoff:        getEnvAsDuration("WA_MAX_BACKOFF", 60*time.Second),
		WATokensPerSecond:   getEnvAsFloat("WA_TOKENS_PER_SECOND", 1.0),
		WABucketCapacity:    getEnvAsInt("WA_BUCKET_CAPACITY", 5),
		WAReadCount:         getEnvAsInt("WA_READ_COUNT", 32),
		WAReadBlockMS:       getEnvAsInt("WA_READ_BLOCK_MS", 250),
		WAStreamClaimIdle:   time.Duration(getEnvAsInt("WA_STREAM_CLAIM_IDLE_MS", 15000)) * time.Millisecond,
		WAWorkerConcurrency: getEnvAsInt("WA_WORKER_CONCURRENCY", 4),
		WAOptimisticSend:    getEnvAsBool("WA_OPTIMISTIC_SEND", true),
		WACheckConnTTL:      getEnvAsDuration("WA_CHECK_CONN_TTL", 3*time.Second),
		WAIdleSleepBase:     getEnvAsDuration("WA_IDLE_SLEEP_BASE", 50*time.Millisecond),
		WASendPresence:      getEnvAsBool("WA_SEND_PRESENCE", false),

		ConversationQueueURL:    getEnv("CONVERSATION_QUEUE_URL", ""),
		ConversationJobsTable:   getEnv("JOBS_TABLE", "conversation_jobs"),
		WorkerCount:             getEnvAsInt("WORKER_COUNT", 2),
		ConversationLogFailFast: getEnvAsBool("CONVERSATION_LOG_FAIL_FAST", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),

		LangGraphURL:     getEnv("LANGGRAPH_URL", ""),
		LangGraphAPIKey:  getEnv("LANGGRAPH_API_KEY", ""),
		LangGraphTimeout: getEnvAsDuration("LANGGRAPH_TIMEOUT", 10*time.Second),

		Mem0URL:          getEnv("MEM0_URL", ""),
		Mem0APIKey:       getEnv("MEM0_API_KEY", ""),
		Mem0Timeout:      time.Duration(getEnvAsInt("MEM0_TIMEOUT_MS", 6000)) * time.Millisecond,
		Mem0ReadsEnabled: getEnvAsBool("MEM0_READS_ENABLED", false),
		Mem0ShadowMode:   getEnvAsBool("MEM0_SHADOW_MODE", false),
		CanarySampleRate: getEnvAsFloat("CANARY_SAMPLE_RATE", 0.0),

		FastPathEnabled: getEnvAsBool("FAST_PATH_ENABLED", true),

		FollowupInterval:     getEnvAsDuration("FOLLOWUP_INTERVAL", time.Minute),
		ArchiveBucket:        getEnv("ARCHIVE_BUCKET", ""),
		ArchiveIdleAfter:     getEnvAsDuration("ARCHIVE_IDLE_AFTER", 72*time.Hour),
		ArchiveSweepInterval: getEnvAsDuration("ARCHIVE_SWEEP_INTERVAL", time.Hour),

		NotifyEmailFrom:  getEnv("NOTIFY_EMAIL_FROM", ""),
		SESRegion:        getEnv("SES_REGION", ""),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName: getEnv("SENDGRID_FROM_NAME", "Concierge"),
	}

	// Remote memory calls shorter than this are useless in practice.
	if cfg.Mem0Timeout < 800*time.Millisecond {
		cfg.Mem0Timeout = 800 * time.Millisecond
	}

	return cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "1" {
		return true
	}
	if valueStr == "0" {
		return false
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
