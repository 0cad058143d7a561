package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

var errEmptyCompletion = errors.New("empty completion")

// Provider names an LLMClient for logs and errors.
type Provider struct {
	Name   string
	Client LLMClient
}

// FailoverClient asks providers in order and returns the first draft with
// text. A blank draft counts as a failure. Once the caller's deadline has
// passed no further provider is tried.
type FailoverClient struct {
	providers []Provider
	logger    *logging.Logger
}

// NewFailoverClient skips providers without a client.
func NewFailoverClient(logger *logging.Logger, providers ...Provider) *FailoverClient {
	if logger == nil {
		logger = logging.Default()
	}
	usable := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Client != nil {
			usable = append(usable, p)
		}
	}
	return &FailoverClient{providers: usable, logger: logger}
}

func (c *FailoverClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if len(c.providers) == 0 {
		return Completion{}, errors.New("generation: no LLM provider configured")
	}

	var errs []error
	for i, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := provider.Client.Complete(ctx, p)
		if err == nil && strings.TrimSpace(out.Text) == "" {
			err = errEmptyCompletion
		}
		if err == nil {
			if i > 0 {
				c.logger.Info("draft served by fallback provider", "provider", provider.Name)
			}
			return out, nil
		}
		c.logger.Warn("LLM provider failed", "provider", provider.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name, err))
	}
	return Completion{}, fmt.Errorf("generation: every provider failed: %w", errors.Join(errs...))
}
