package generation

import "context"

// Prompt is one model call made by the Service: the outreach persona as the
// system instruction and a single user turn carrying the lead details,
// conversation context and the task.
type Prompt struct {
	System    string
	User      string
	MaxTokens int32
}

// TokenUsage is reported by providers that return it.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Completion is the provider's answer to a Prompt.
type Completion struct {
	Text       string
	StopReason string
	Usage      TokenUsage
}

// LLMClient is a text generation provider.
type LLMClient interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}
