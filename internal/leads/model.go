package leads

import (
	"strings"
	"time"
)

// ReplyStatus records whether the lead has ever answered.
type ReplyStatus string

const (
	ReplyStatusReplied    ReplyStatus = "replied"
	ReplyStatusNotReplied ReplyStatus = "not_replied"
)

// Interest is the classified interest of a lead.
type Interest string

const (
	InterestInterested    Interest = "interested"
	InterestNotInterested Interest = "not_interested"
	InterestUnsure        Interest = "unsure"
)

// ParseInterest maps free-form classifier output onto an Interest.
func ParseInterest(raw string) Interest {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "interested":
		return InterestInterested
	case "not_interested", "uninterested":
		return InterestNotInterested
	default:
		return InterestUnsure
	}
}

// TurnRole identifies the author of a conversation turn.
type TurnRole string

const (
	TurnInbound  TurnRole = "inbound"
	TurnOutbound TurnRole = "outbound"
	TurnSystem   TurnRole = "system"
)

// Lead is a prospect tracked through the outreach workflow.
type Lead struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	ProfileURL        string      `json:"profile_url"`
	Role              string      `json:"role"`
	Company           string      `json:"company"`
	Email             string      `json:"email"`
	Phone             string      `json:"phone"`
	State             State       `json:"state"`
	MessageSent       bool        `json:"message_sent"`
	ReplyStatus       ReplyStatus `json:"reply_status"`
	InterestLevel     Interest    `json:"interest_level"`
	FollowUpTaken     bool        `json:"follow_up_taken"`
	FollowUpCount     int         `json:"follow_up_count"`
	LastContactAt     *time.Time  `json:"last_contact_at,omitempty"`
	LastSeenToken     string      `json:"-"`
	ThreadURL         string      `json:"thread_url,omitempty"`
	// FollowUpClaimedAt marks when a sender last took the lead into
	// follow_up_due.
	FollowUpClaimedAt *time.Time  `json:"-"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (l *Lead) clone() *Lead {
	c := *l
	if l.LastContactAt != nil {
		t := *l.LastContactAt
		c.LastContactAt = &t
	}
	if l.FollowUpClaimedAt != nil {
		t := *l.FollowUpClaimedAt
		c.FollowUpClaimedAt = &t
	}
	return &c
}

// Turn is one message in a lead's conversation history.
type Turn struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UpsertLeadRequest creates a lead or refreshes the display attributes of
// the lead owning the same profile URL.
type UpsertLeadRequest struct {
	Name       string `json:"name"`
	ProfileURL string `json:"profile_url"`
	Role       string `json:"role"`
	Company    string `json:"company"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// Validate normalizes the profile URL in place and checks required fields.
func (r *UpsertLeadRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrInvalidName
	}
	r.ProfileURL = NormalizeProfileURL(r.ProfileURL)
	if r.ProfileURL == "" {
		return ErrInvalidProfile
	}
	return nil
}

// ListFilter narrows List results.
type ListFilter struct {
	State  State
	Limit  int
	Offset int
}

// NormalizeProfileURL strips the query string, fragment and trailing
// slashes so that variants of the same profile compare equal.
func NormalizeProfileURL(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}
