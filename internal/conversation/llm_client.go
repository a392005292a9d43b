package conversation

import "context"

// ChatMessage is one turn of model-visible conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports prompt and completion token counts when the provider
// returns them.
type TokenUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
}

// LLMRequest is a provider-neutral completion request.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse carries the completion plus enough metadata to log and meter
// the call.
type LLMResponse struct {
	Text       string
	StopReason string
	Usage      TokenUsage
	Model      string
	Provider   string
}

// LLMClient abstracts the completion provider so the pipeline can run
// against Bedrock, Gemini, or a fake in tests.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
