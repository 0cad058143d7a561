package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// BuildLLMClient wires the configured provider and optional fallback. A nil
// client with no error means generation is disabled and the fixed fallback
// texts are used.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, bedrock *bedrockruntime.Client, logger *logging.Logger) (generation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, bedrock)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		logger.Warn("no LLM provider configured; using fallback texts", "provider", cfg.LLMProvider)
		return nil, nil
	}

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		logger.Info("LLM provider configured", "provider", cfg.LLMProvider)
		return primary, nil
	}
	fallback, err := buildProvider(ctx, fallbackName, cfg, bedrock)
	if err != nil {
		logger.Warn("LLM fallback provider unavailable", "provider", fallbackName, "error", err)
		return primary, nil
	}
	if fallback == nil {
		return primary, nil
	}
	logger.Info("LLM provider configured", "provider", cfg.LLMProvider, "fallback", fallbackName)
	return generation.NewFailoverClient(logger,
		generation.Provider{Name: cfg.LLMProvider, Client: primary},
		generation.Provider{Name: fallbackName, Client: fallback},
	), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, bedrock *bedrockruntime.Client) (generation.LLMClient, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil
		}
		client, err := generation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini: %w", err)
		}
		return client, nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, nil
		}
		client, err := generation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: openai: %w", err)
		}
		return client, nil
	case "bedrock":
		if bedrock == nil || strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil
		}
		return generation.NewBedrockLLMClient(bedrock, cfg.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown LLM provider %q", name)
	}
}
