// Package generation drafts outreach messages and classifies replies. Every
// operation degrades to a deterministic fallback so callers never stall for
// lack of model output.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

const (
	DefaultContextTurns = 20
	maxContextTurns     = 100
	defaultTimeout      = 30 * time.Second
)

// Fallback texts used when no model is configured or the model fails.
const (
	FallbackFollowUp = "Just bumping this to the top of your inbox. Open to a quick chat?"
	FallbackReply    = "Thanks for the note! Would a quick 10-15 min chat work next week?"
	ActionAck        = "ack"
)

// HistorySource supplies the conversation window for a lead.
type HistorySource interface {
	RecentTurns(ctx context.Context, leadID string, limit int) ([]leads.Turn, error)
}

// Classification is the parsed verdict on an inbound reply.
type Classification struct {
	Interest leads.Interest `json:"interest"`
	Action   string         `json:"action"`
	Summary  string         `json:"summary"`
}

// Service implements the response generation capability.
type Service struct {
	client       LLMClient
	history      HistorySource
	bus          *eventbus.Bus
	logger       *logging.Logger
	contextTurns int
	timeout      time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithContextTurns sets how many recent turns are shown to the model.
func WithContextTurns(n int) Option {
	return func(s *Service) {
		s.contextTurns = clampTurns(n)
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func clampTurns(n int) int {
	switch {
	case n < 1:
		return 1
	case n > maxContextTurns:
		return maxContextTurns
	default:
		return n
	}
}

// NewService creates the generator. A nil client disables the model and
// every call returns its fallback.
func NewService(client LLMClient, history HistorySource, bus *eventbus.Bus, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		client:       client,
		history:      history,
		bus:          bus,
		logger:       logger,
		contextTurns: DefaultContextTurns,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if client == nil {
		logger.Warn("no LLM configured; generation uses fallback texts")
	}
	return s
}

// Enabled reports whether a model backs the service.
func (s *Service) Enabled() bool {
	return s.client != nil
}

// FallbackOpening is the deterministic first message for a lead.
func FallbackOpening(lead *leads.Lead) string {
	return fmt.Sprintf("Hi %s, great to connect!", firstNonEmpty(lead.Name, "there"))
}

func fallbackOpeningAfterError(lead *leads.Lead) string {
	return fmt.Sprintf("Hi %s, great to connect! I enjoyed learning about your work at %s. If you're open, I'd love to share a quick idea relevant to your role as %s.",
		firstNonEmpty(lead.Name, "there"),
		firstNonEmpty(lead.Company, "your company"),
		firstNonEmpty(lead.Role, "your role"),
	)
}

// GenerateOpening drafts the initial contact message.
func (s *Service) GenerateOpening(ctx context.Context, lead *leads.Lead) string {
	if s.client == nil {
		return FallbackOpening(lead)
	}
	text, err := s.complete(ctx, openingPrompt(lead), 200)
	if err != nil {
		s.warn("opening", lead, err)
		return fallbackOpeningAfterError(lead)
	}
	return text
}

// GenerateFollowUp drafts a nudge for a lead that has not replied.
func (s *Service) GenerateFollowUp(ctx context.Context, lead *leads.Lead) string {
	if s.client == nil {
		return FallbackFollowUp
	}
	text, err := s.complete(ctx, followUpPrompt(lead, s.contextLines(ctx, lead)), 200)
	if err != nil {
		s.warn("follow-up", lead, err)
		return FallbackFollowUp
	}
	return text
}

// GenerateReply answers the lead's latest inbound message.
func (s *Service) GenerateReply(ctx context.Context, lead *leads.Lead, inbound string) string {
	if s.client == nil {
		return FallbackReply
	}
	text, err := s.complete(ctx, replyPrompt(lead, s.contextLines(ctx, lead), inbound), 300)
	if err != nil {
		s.warn("reply", lead, err)
		return FallbackReply
	}
	return text
}

// Classify estimates the lead's interest from an inbound reply.
func (s *Service) Classify(ctx context.Context, lead *leads.Lead, reply string) Classification {
	if s.client == nil {
		return Classification{Interest: leads.InterestUnsure, Action: ActionAck, Summary: truncateRunes(reply, 200)}
	}
	text, err := s.complete(ctx, classifyPrompt(reply), 300)
	if err != nil {
		s.warn("classify", lead, err)
		return Classification{Interest: leads.InterestUnsure, Action: ActionAck}
	}
	return ParseClassification(text)
}

func (s *Service) complete(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, Prompt{
		System:    systemPrompt,
		User:      prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("generation: empty model response")
	}
	return text, nil
}

func (s *Service) warn(kind string, lead *leads.Lead, err error) {
	leadID := ""
	if lead != nil {
		leadID = lead.ID
	}
	s.logger.Warn("generation failed; using fallback", "kind", kind, "lead_id", leadID, "error", err)
	s.bus.Warn(fmt.Sprintf("AI %s error; using fallback", kind), map[string]any{
		"lead_id": leadID,
		"error":   err.Error(),
	})
}

func (s *Service) contextLines(ctx context.Context, lead *leads.Lead) []string {
	if s.history == nil || lead == nil {
		return nil
	}
	turns, err := s.history.RecentTurns(ctx, lead.ID, s.contextTurns)
	if err != nil {
		s.logger.Warn("failed to load conversation context", "lead_id", lead.ID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", t.Timestamp.UTC().Format(time.RFC3339), t.Role, t.Content))
	}
	return lines
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
