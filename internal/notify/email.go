// Package notify delivers operator alerts by email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

const defaultFromName = "Outreach Orchestrator"

var errNotConfigured = errors.New("notify: sender not configured")

// EmailSender sends one email. SendGrid and SES implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error)
}

// sendgridResponse holds the parts of the REST response the sender inspects.
type sendgridResponse struct {
	StatusCode int
	Body       string
}

type sendGridClient struct {
	client *sendgrid.Client
}

func (c sendGridClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	resp, err := c.client.SendWithContext(ctx, email)
	if err != nil {
		return nil, err
	}
	return &sendgridResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	api       sendGridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is set.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendGridClient{client: sendgrid.NewSendClient(cfg.APIKey)}, cfg, logger)
}

func newSendGridSender(api sendGridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{api: api, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

// Send delivers msg. HTML falls back to the plain body.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.api == nil {
		return errNotConfigured
	}

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)

	resp, err := s.api.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogSender only logs. It is used when no provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("email delivery disabled; dropping message", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*LogSender)(nil)
)
