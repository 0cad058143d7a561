package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// MatchKind records which rule attributed a message.
type MatchKind string

const (
	MatchProfile  MatchKind = "profile"
	MatchName     MatchKind = "name"
	MatchFallback MatchKind = "fallback"
	MatchNone     MatchKind = "none"
)

// Match is the outcome of attributing one message.
type Match struct {
	Lead *leads.Lead
	Kind MatchKind
}

// LeadFinder is the read side of the lead store the matcher needs.
type LeadFinder interface {
	GetByProfileURL(ctx context.Context, profileURL string) (*leads.Lead, error)
	FindLatestByName(ctx context.Context, fragment string) (*leads.Lead, error)
	FindLatest(ctx context.Context) (*leads.Lead, error)
}

// Matcher resolves a message to exactly one lead. It never creates leads.
type Matcher struct {
	finder LeadFinder
	bus    *eventbus.Bus
	logger *logging.Logger
}

// NewMatcher builds a matcher over finder.
func NewMatcher(finder LeadFinder, bus *eventbus.Bus, logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Matcher{finder: finder, bus: bus, logger: logger}
}

// Match applies, in order: exact normalized profile URL, case-insensitive
// participant name containment (most recently updated wins), and finally
// the most recently updated lead overall. The last rule can attribute a
// message to an unrelated lead; it is logged and published as a warning
// every time it fires.
func (m *Matcher) Match(ctx context.Context, msg Message) (Match, error) {
	if profile := NormalizeProfileURL(msg.ProfileURL); profile != "" {
		lead, err := m.finder.GetByProfileURL(ctx, profile)
		if err == nil {
			return Match{Lead: lead, Kind: MatchProfile}, nil
		}
		if !errors.Is(err, leads.ErrLeadNotFound) {
			return Match{Kind: MatchNone}, fmt.Errorf("inbox: match by profile: %w", err)
		}
	}

	if msg.ParticipantName != "" {
		lead, err := m.finder.FindLatestByName(ctx, msg.ParticipantName)
		if err == nil {
			return Match{Lead: lead, Kind: MatchName}, nil
		}
		if !errors.Is(err, leads.ErrLeadNotFound) {
			return Match{Kind: MatchNone}, fmt.Errorf("inbox: match by name: %w", err)
		}
	}

	lead, err := m.finder.FindLatest(ctx)
	if errors.Is(err, leads.ErrLeadNotFound) {
		return Match{Kind: MatchNone}, nil
	}
	if err != nil {
		return Match{Kind: MatchNone}, fmt.Errorf("inbox: match fallback: %w", err)
	}

	m.logger.Warn("inbound message attributed to most recent lead",
		"lead_id", lead.ID,
		"participant", msg.ParticipantName,
		"profile_url", msg.ProfileURL,
	)
	m.bus.Warn("Message matched by fallback to most recent lead", map[string]any{
		"lead_id":     lead.ID,
		"lead_name":   lead.Name,
		"participant": msg.ParticipantName,
	})
	return Match{Lead: lead, Kind: MatchFallback}, nil
}
