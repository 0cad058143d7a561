package leads

import "time"

// State is the lead's position in the contact, reply and follow-up lifecycle.
type State string

const (
	StateNew           State = "new"
	StateContacted     State = "contacted"
	StateAwaitingReply State = "awaiting_reply"
	StateReplied       State = "replied"
	StateFollowUpDue   State = "follow_up_due"
	StateFollowUpSent  State = "follow_up_sent"
)

// Event triggers a state transition.
type Event string

const (
	EventInitialSent     Event = "initial_sent"
	EventInboundAccepted Event = "inbound_accepted"
	EventResponded       Event = "responded"
	EventFollowUpDue     Event = "follow_up_due"
	EventFollowUpSent    Event = "follow_up_sent"
)

// Rule describes which states accept an event and where it leads.
type Rule struct {
	From []State
	To   State
}

// Allows reports whether s is a valid source state for the rule.
func (r Rule) Allows(s State) bool {
	for _, f := range r.From {
		if f == s {
			return true
		}
	}
	return false
}

// There is no terminal state: inbound messages are accepted from every
// state a contacted lead can be in.
var rules = map[Event]Rule{
	EventInitialSent: {
		From: []State{StateNew},
		To:   StateContacted,
	},
	EventInboundAccepted: {
		From: []State{StateContacted, StateAwaitingReply, StateReplied, StateFollowUpDue, StateFollowUpSent},
		To:   StateReplied,
	},
	EventResponded: {
		From: []State{StateReplied},
		To:   StateAwaitingReply,
	},
	// follow_up_due is not re-entered here; FollowUpClaim takes over claims
	// that went stale.
	EventFollowUpDue: {
		From: []State{StateContacted, StateFollowUpSent},
		To:   StateFollowUpDue,
	},
	EventFollowUpSent: {
		From: []State{StateFollowUpDue},
		To:   StateFollowUpSent,
	},
}

// RuleFor returns the transition rule for an event.
func RuleFor(ev Event) (Rule, bool) {
	r, ok := rules[ev]
	return r, ok
}

// Transition returns the target state for ev applied in state from.
func Transition(from State, ev Event) (State, bool) {
	r, ok := rules[ev]
	if !ok || !r.Allows(from) {
		return from, false
	}
	return r.To, true
}

// applyEffects mutates l as the store does when ev commits at time at.
// PostgresRepository mirrors these effects in SQL.
func applyEffects(l *Lead, ev Event, at time.Time) {
	switch ev {
	case EventInitialSent:
		l.MessageSent = true
		l.LastContactAt = &at
	case EventInboundAccepted:
		l.ReplyStatus = ReplyStatusReplied
	case EventResponded:
		l.LastContactAt = &at
	case EventFollowUpDue:
		l.FollowUpClaimedAt = &at
	case EventFollowUpSent:
		// reply_status stays not_replied until an inbound message arrives
		l.FollowUpTaken = true
		l.FollowUpCount++
		l.LastContactAt = &at
	}
}

// FollowUpClaim takes a lead into follow_up_due for exactly one sender. It
// holds only while the lead's last contact still equals the snapshot the
// caller decided on. A lead already in follow_up_due can be claimed again
// only once its previous claim is older than StaleBefore.
type FollowUpClaim struct {
	LeadID        string
	LastContactAt *time.Time
	At            time.Time
	StaleBefore   time.Time
}

func (c FollowUpClaim) allows(l *Lead) bool {
	if !sameInstant(l.LastContactAt, c.LastContactAt) {
		return false
	}
	if rules[EventFollowUpDue].Allows(l.State) {
		return true
	}
	return l.State == StateFollowUpDue &&
		(l.FollowUpClaimedAt == nil || l.FollowUpClaimedAt.Before(c.StaleBefore))
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// FollowUpEligible is the sweep selection predicate.
func FollowUpEligible(l *Lead, now time.Time, after time.Duration) bool {
	if l == nil || !l.MessageSent || l.ReplyStatus != ReplyStatusNotReplied {
		return false
	}
	return l.LastContactAt == nil || l.LastContactAt.Before(now.Add(-after))
}
