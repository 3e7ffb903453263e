package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient calls the Bedrock Converse API.
type BedrockClient struct {
	api     bedrockConverseAPI
	modelID string
}

// NewBedrockClient wraps a Converse-capable client. modelID is used when a
// request does not name a model.
func NewBedrockClient(api bedrockConverseAPI, modelID string) *BedrockClient {
	if api == nil {
		panic("llm: bedrock converse client cannot be nil")
	}
	return &BedrockClient{api: api, modelID: modelID}
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := firstNonEmpty(req.Model, c.modelID)
	if model == "" {
		return Response{}, errors.New("llm: bedrock model id is required")
	}
	input, err := converseInput(model, req)
	if err != nil {
		return Response{}, err
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("llm: bedrock converse: %w", err)
	}
	if out == nil {
		return Response{}, errors.New("llm: bedrock returned no output")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("llm: bedrock output is not a message")
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return Response{}, errors.New("llm: bedrock answer is empty")
	}

	resp := Response{Text: answer, StopReason: string(out.StopReason)}
	if u := out.Usage; u != nil {
		resp.Usage = TokenUsage{
			InputTokens:  aws.ToInt32(u.InputTokens),
			OutputTokens: aws.ToInt32(u.OutputTokens),
			TotalTokens:  aws.ToInt32(u.TotalTokens),
		}
	}
	return resp, nil
}

// converseInput maps a Request onto Converse. System-role messages join the
// system prompt since Converse has no system turn.
func converseInput(model string, req Request) (*bedrockruntime.ConverseInput, error) {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(model)}
	addSystem := func(text string) {
		if text = strings.TrimSpace(text); text != "" {
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: text})
		}
	}
	for _, s := range req.System {
		addSystem(s)
	}

	for _, m := range req.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case RoleSystem:
			addSystem(text)
			continue
		case RoleUser:
			role = brtypes.ConversationRoleUser
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("llm: unsupported role %q", m.Role)
		}
		input.Messages = append(input.Messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		})
	}

	// Negative temperature leaves the provider default.
	if req.MaxTokens > 0 || req.Temperature >= 0 || req.TopP != 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			cfg.MaxTokens = aws.Int32(req.MaxTokens)
		}
		if req.Temperature >= 0 {
			cfg.Temperature = aws.Float32(req.Temperature)
		}
		if req.TopP != 0 {
			cfg.TopP = aws.Float32(req.TopP)
		}
		input.InferenceConfig = cfg
	}
	return input, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
