package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

func TestFailoverClientUsesNextProviderOnError(t *testing.T) {
	primary := &stubLLMClient{err: errors.New("primary down")}
	secondary := &stubLLMClient{responses: []Completion{{Text: "from fallback"}}}

	client := NewFailoverClient(logging.Discard(), Provider{"gemini", primary}, Provider{"openai", secondary})
	resp, err := client.Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Len(t, primary.requests, 1)
	assert.Len(t, secondary.requests, 1)
	assert.Equal(t, "hi", secondary.requests[0].User)
}

func TestFailoverClientTreatsBlankDraftAsFailure(t *testing.T) {
	primary := &stubLLMClient{responses: []Completion{{Text: "  "}}}
	secondary := &stubLLMClient{responses: []Completion{{Text: "usable"}}}

	resp, err := NewFailoverClient(nil, Provider{"gemini", primary}, Provider{"bedrock", secondary}).
		Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "usable", resp.Text)
}

func TestFailoverClientReportsEveryProvider(t *testing.T) {
	primary := &stubLLMClient{err: errors.New("quota exceeded")}
	secondary := &stubLLMClient{err: errors.New("throttled")}

	client := NewFailoverClient(logging.Discard(), Provider{"gemini", primary}, Provider{"openai", secondary}, Provider{"bedrock", nil})
	_, err := client.Complete(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "gemini: quota exceeded")
	assert.ErrorContains(t, err, "openai: throttled")

	_, err = NewFailoverClient(nil).Complete(context.Background(), Prompt{User: "hi"})
	assert.ErrorContains(t, err, "no LLM provider configured")
}

func TestFailoverClientStopsAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &cancellingClient{cancel: cancel}
	secondary := &stubLLMClient{responses: []Completion{{Text: "late"}}}

	_, err := NewFailoverClient(logging.Discard(), Provider{"gemini", primary}, Provider{"openai", secondary}).
		Complete(ctx, Prompt{User: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, secondary.requests)
}

type cancellingClient struct {
	cancel context.CancelFunc
}

func (c *cancellingClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	c.cancel()
	return Completion{}, ctx.Err()
}

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestBedrockLLMClientComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " Hello Alice "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(3), TotalTokens: aws.Int32(13)},
	}}
	client := NewBedrockLLMClient(api, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), Prompt{
		System:    "be brief",
		User:      "say hi",
		MaxTokens: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Alice", resp.Text)
	assert.Equal(t, int32(13), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	require.Len(t, api.input.System, 1)
	require.Len(t, api.input.Messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, api.input.Messages[0].Role)
	require.NotNil(t, api.input.InferenceConfig)
	assert.Equal(t, int32(50), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockLLMClientErrors(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverse{err: errors.New("throttled")}, "m")
	_, err := client.Complete(context.Background(), Prompt{User: "x"})
	assert.ErrorContains(t, err, "throttled")

	_, err = NewBedrockLLMClient(&fakeConverse{}, " ").Complete(context.Background(), Prompt{User: "x"})
	assert.ErrorContains(t, err, "model id is required")

	_, err = client.Complete(context.Background(), Prompt{System: "be brief", User: "  "})
	assert.ErrorContains(t, err, "prompt is empty")
}

func TestOpenAILLMClientComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " Hi Alice! "}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	client, err := NewOpenAILLMClient("test-key", "", srv.URL+"/v1/")
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Prompt{
		System: "be brief",
		User:   "say hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Alice!", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, int32(10), resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Len(t, body["messages"], 2)
}

func TestOpenAILLMClientRequiresKey(t *testing.T) {
	_, err := NewOpenAILLMClient(" ", "gpt-4o-mini", "")
	assert.Error(t, err)
}
