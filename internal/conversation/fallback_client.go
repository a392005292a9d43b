package conversation

import (
	"context"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// FallbackLLMClient tries the primary provider and falls back to the
// secondary when the primary errors. The response keeps the provider that
// actually answered so logs and metrics stay truthful.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

var _ LLMClient = (*FallbackLLMClient)(nil)

func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: nil primary llm client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return LLMResponse{}, err
	}
	c.logger.Warn("primary llm failed, trying fallback", "error", err)
	resp, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		c.logger.Error("fallback llm failed", "error", fbErr)
		return LLMResponse{}, err
	}
	return resp, nil
}
