package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockAPI is the slice of the Bedrock runtime client the conversation
// layer uses.
type bedrockAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient talks to Amazon Bedrock through the Converse API.
type BedrockClient struct {
	api          bedrockAPI
	defaultModel string
}

var _ LLMClient = (*BedrockClient)(nil)

func NewBedrockClient(api bedrockAPI, defaultModel string) *BedrockClient {
	if api == nil {
		panic("conversation: nil bedrock api")
	}
	return &BedrockClient{api: api, defaultModel: defaultModel}
}

func (c *BedrockClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	input, model, err := c.buildConverseInput(req)
	if err != nil {
		return LLMResponse{}, err
	}
	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := LLMResponse{
		Text:     bedrockOutputText(out.Output),
		Model:    model,
		Provider: "bedrock",
	}
	resp.StopReason = string(out.StopReason)
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
		}
	}
	return resp, nil
}

func (c *BedrockClient) buildConverseInput(req LLMRequest) (*bedrockruntime.ConverseInput, string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, "", fmt.Errorf("bedrock converse: no model configured")
	}

	input := &bedrockruntime.ConverseInput{ModelId: aws.String(model)}

	for _, sys := range req.System {
		if strings.TrimSpace(sys) == "" {
			continue
		}
		input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: sys})
	}

	for _, msg := range req.Messages {
		var role brtypes.ConversationRole
		switch msg.Role {
		case ChatRoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			role = brtypes.ConversationRoleUser
		}
		input.Messages = append(input.Messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg.Content}},
		})
	}
	if len(input.Messages) == 0 {
		return nil, "", fmt.Errorf("bedrock converse: no messages")
	}

	cfg := &brtypes.InferenceConfiguration{}
	configured := false
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(req.MaxTokens)
		configured = true
	}
	if req.Temperature >= 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
		configured = true
	}
	if req.TopP > 0 {
		cfg.TopP = aws.Float32(req.TopP)
		configured = true
	}
	if configured {
		input.InferenceConfig = cfg
	}
	return input, model, nil
}

func bedrockOutputText(out brtypes.ConverseOutput) string {
	msg, ok := out.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
