package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/generation"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Notifier alerts the operator about leads that need a human.
type Notifier struct {
	email  EmailSender
	to     string
	bus    *eventbus.Bus
	logger *logging.Logger
}

// NewNotifier creates a notifier. An empty recipient disables email but
// still publishes to the bus.
func NewNotifier(email EmailSender, to string, bus *eventbus.Bus, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{email: email, to: strings.TrimSpace(to), bus: bus, logger: logger}
}

// LeadInterested sends the interested-lead alert.
func (n *Notifier) LeadInterested(ctx context.Context, lead *leads.Lead, c generation.Classification) error {
	n.bus.Success(fmt.Sprintf("%s is interested", lead.Name), map[string]any{
		"lead_id": lead.ID,
		"summary": c.Summary,
	})

	if n.email == nil || n.to == "" {
		n.logger.Debug("notify: no operator email configured", "lead_id", lead.ID)
		return nil
	}

	msg := EmailMessage{
		To:      n.to,
		Subject: fmt.Sprintf("Interested lead: %s", lead.Name),
		Body:    interestedBody(lead, c),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: interested lead %s: %w", lead.ID, err)
	}
	n.logger.Info("operator notified of interested lead", "lead_id", lead.ID)
	return nil
}

func interestedBody(lead *leads.Lead, c generation.Classification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s replied and looks interested.\n\n", lead.Name)
	if lead.Role != "" || lead.Company != "" {
		fmt.Fprintf(&b, "Role: %s\nCompany: %s\n", lead.Role, lead.Company)
	}
	fmt.Fprintf(&b, "Profile: %s\n", lead.ProfileURL)
	if lead.ThreadURL != "" {
		fmt.Fprintf(&b, "Conversation: %s\n", lead.ThreadURL)
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "\nSummary: %s\n", c.Summary)
	}
	if c.Action != "" {
		fmt.Fprintf(&b, "Suggested next step: %s\n", c.Action)
	}
	return b.String()
}
