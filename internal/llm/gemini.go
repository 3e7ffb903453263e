package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements Client on Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelID: firstNonEmpty(modelID, defaultGeminiModel)}, nil
}

// Complete sends the conversation in one GenerateContent call. req.Model
// overrides the configured model.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.client.GenerativeModel(firstNonEmpty(req.Model, c.modelID))
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	system, history, last, err := geminiTurns(req)
	if err != nil {
		return Response{}, err
	}
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	var resp *genai.GenerateContentResponse
	if len(history) == 0 {
		resp, err = model.GenerateContent(ctx, last)
	} else {
		chat := model.StartChat()
		chat.History = history
		resp, err = chat.SendMessage(ctx, last)
	}
	if err != nil {
		return Response{}, fmt.Errorf("llm: gemini generate: %w", err)
	}
	return geminiResponse(resp)
}

// geminiTurns splits a Request into the system instruction, prior turns and
// the final user part.
func geminiTurns(req Request) (string, []*genai.Content, genai.Part, error) {
	system := append([]string(nil), req.System...)
	var turns []*genai.Content
	for _, m := range req.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, text)
		case RoleUser:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(text)}})
		case RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}})
		default:
			return "", nil, nil, fmt.Errorf("llm: unsupported role %q", m.Role)
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return "", nil, nil, errors.New("llm: gemini needs a final user message")
	}
	last := turns[len(turns)-1]
	return strings.TrimSpace(strings.Join(system, "\n\n")), turns[:len(turns)-1], last.Parts[0], nil
}

func geminiResponse(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, errors.New("llm: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return Response{}, errors.New("llm: gemini answer is empty")
	}

	out := Response{Text: answer, StopReason: candidate.FinishReason.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
	}
	return out, nil
}

func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
