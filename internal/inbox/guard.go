package inbox

import (
	"context"
	"fmt"

	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Reason explains why the guard rejected a message.
type Reason string

const (
	ReasonDuplicateContent Reason = "duplicate_content"
	ReasonSeenToken        Reason = "seen_token"
	ReasonClaimed          Reason = "claimed"
	ReasonCASLost          Reason = "cas_lost"
)

// Decision is the guard verdict for one attributed message.
type Decision struct {
	Accepted bool
	Reason   Reason
	Token    string
}

// TokenStore is the part of the lead store the guard writes through.
type TokenStore interface {
	HasInboundTurn(ctx context.Context, leadID, content string) (bool, error)
	ClaimMessageToken(ctx context.Context, leadID, token string) (bool, error)
}

// Claims is an optional cross-cycle token registry.
type Claims interface {
	Claim(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// Guard gives at-most-once processing per distinct inbound message. Only an
// accepted decision may be followed by side effects.
type Guard struct {
	store  TokenStore
	claims Claims
	logger *logging.Logger
}

// NewGuard creates a guard. claims may be nil.
func NewGuard(store TokenStore, claims Claims, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{store: store, claims: claims, logger: logger}
}

// Check runs the content, token, claim and compare-and-set checks in order.
func (g *Guard) Check(ctx context.Context, lead *leads.Lead, msg Message) (Decision, error) {
	token := Token(msg.ObservedAt, lead.ProfileURL)
	dec := Decision{Token: token}

	dup, err := g.store.HasInboundTurn(ctx, lead.ID, msg.Text)
	if err != nil {
		return dec, fmt.Errorf("inbox: content check: %w", err)
	}
	if dup {
		dec.Reason = ReasonDuplicateContent
		return dec, nil
	}

	if lead.LastSeenToken == token {
		dec.Reason = ReasonSeenToken
		return dec, nil
	}

	claimed := false
	if g.claims != nil {
		ok, err := g.claims.Claim(ctx, token)
		switch {
		case err != nil:
			// the store CAS below still guarantees at-most-once
			g.logger.Warn("dedup claim unavailable", "error", err, "lead_id", lead.ID)
		case !ok:
			dec.Reason = ReasonClaimed
			return dec, nil
		default:
			claimed = true
		}
	}

	won, err := g.store.ClaimMessageToken(ctx, lead.ID, token)
	if err != nil {
		if claimed {
			if rerr := g.claims.Release(ctx, token); rerr != nil {
				g.logger.Warn("failed to release dedup claim", "error", rerr, "token", token)
			}
		}
		return dec, fmt.Errorf("inbox: record token: %w", err)
	}
	if !won {
		dec.Reason = ReasonCASLost
		return dec, nil
	}

	dec.Accepted = true
	return dec, nil
}
