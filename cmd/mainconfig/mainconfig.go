// Package mainconfig holds wiring shared by the binaries.
package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/outreach-orchestrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// LoadAWSConfig builds the SDK config from the app config. Static keys are
// used when both are set; otherwise the default chain applies.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// NewBedrockClient returns a Bedrock runtime client honoring the endpoint override.
func NewBedrockClient(awsCfg aws.Config, cfg *appconfig.Config) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewSESClient returns an SES v2 client honoring the endpoint override.
func NewSESClient(awsCfg aws.Config, cfg *appconfig.Config) *sesv2.Client {
	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NeedsAWS reports whether any configured provider talks to AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	return cfg.LLMProvider == "bedrock" || cfg.LLMFallbackProvider == "bedrock" || cfg.EmailProvider == "ses"
}

// BuildClients loads AWS clients only when a provider needs them. A config
// load failure is logged and leaves the clients nil.
func BuildClients(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) bootstrap.Clients {
	if !NeedsAWS(cfg) {
		return bootstrap.Clients{}
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("failed to load AWS config; bedrock and ses disabled", "error", err)
		return bootstrap.Clients{}
	}
	return bootstrap.Clients{
		Bedrock: NewBedrockClient(awsCfg, cfg),
		SES:     NewSESClient(awsCfg, cfg),
	}
}
