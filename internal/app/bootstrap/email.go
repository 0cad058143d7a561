package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/internal/notify"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// BuildEmailSender returns the configured provider, or a sender that only
// logs when the provider is missing its credentials.
func BuildEmailSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewLogSender(logger)
	}

	switch cfg.EmailProvider {
	case "ses":
		if ses != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(ses, notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger)
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	if cfg.NotifyEmailTo != "" {
		logger.Warn("email provider not configured; alerts are logged only", "provider", cfg.EmailProvider)
	}
	return notify.NewLogSender(logger)
}
