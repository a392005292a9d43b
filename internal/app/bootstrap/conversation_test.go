package bootstrap

import (
	"context"
	"testing"

	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/pkg/logging"
)

func TestBuildLLMClientRequiresConfig(t *testing.T) {
	if _, err := BuildLLMClient(context.Background(), nil, logging.New("error")); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildLLMClientNoneConfiguredReturnsNil(t *testing.T) {
	client, err := BuildLLMClient(context.Background(), &appconfig.Config{}, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client when no model is configured")
	}
}

func TestBuildLLMClientBedrockOnly(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:      "us-east-1",
		BedrockModelID: "anthropic.claude-3-5-sonnet-20240620-v1:0",
	}

	client, err := BuildLLMClient(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*conversation.BedrockClient); !ok {
		t.Fatalf("expected BedrockClient, got %T", client)
	}
}

func TestBuildLLMClientBedrockWithGeminiFallback(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:      "us-east-1",
		BedrockModelID: "anthropic.claude-3-5-sonnet-20240620-v1:0",
		GeminiAPIKey:   "test-key",
		GeminiModel:    "gemini-2.0-flash",
	}

	client, err := BuildLLMClient(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*conversation.FallbackLLMClient); !ok {
		t.Fatalf("expected FallbackLLMClient, got %T", client)
	}
}

func TestBuildLaneRunnerDisabledWithoutURL(t *testing.T) {
	if r := BuildLaneRunner(&appconfig.Config{}, logging.New("error")); r != nil {
		t.Fatalf("expected nil runner when LANGGRAPH_URL is empty")
	}
}

func TestBuildLaneRunnerConfigured(t *testing.T) {
	cfg := &appconfig.Config{LangGraphURL: "http://localhost:2024"}
	if r := BuildLaneRunner(cfg, logging.New("error")); r == nil {
		t.Fatalf("expected lane runner")
	}
}

func TestBuildMemoryRequiresPool(t *testing.T) {
	if m := BuildMemory(&appconfig.Config{}, nil, nil, logging.New("error")); m != nil {
		t.Fatalf("expected nil memory without a database pool")
	}
}

func TestBuildNotifierRequiresConfig(t *testing.T) {
	if n := BuildNotifier(context.Background(), nil, nil, logging.New("error")); n != nil {
		t.Fatalf("expected nil notifier for nil config")
	}
}

func TestBuildNotifierWithoutEmailStillNotifies(t *testing.T) {
	n := BuildNotifier(context.Background(), &appconfig.Config{}, nil, logging.New("error"))
	if n == nil {
		t.Fatalf("expected notifier even without email senders")
	}
}
