package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLMClient implements LLMClient on the OpenAI chat completions API
// or any compatible endpoint.
type OpenAILLMClient struct {
	client openai.Client
	model  string
}

// NewOpenAILLMClient creates a client. baseURL is optional.
func NewOpenAILLMClient(apiKey, model, baseURL string) (*OpenAILLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("generation: openai api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAILLMClient{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *OpenAILLMClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if strings.TrimSpace(p.User) == "" {
		return Completion{}, errors.New("generation: openai prompt is empty")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(p.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("generation: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("generation: openai returned no choices")
	}

	choice := resp.Choices[0]
	return Completion{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}
