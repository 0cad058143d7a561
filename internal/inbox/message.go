// Package inbox attributes messages observed on the outbound channel to leads
// and guards against processing the same message twice.
package inbox

import (
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/outreach-orchestrator/internal/leads"
)

// Message is an inbound message as reported by the channel. It is transient
// until the matcher attributes it to a lead.
type Message struct {
	Text            string    `json:"text"`
	ObservedAt      time.Time `json:"observed_at"`
	ProfileURL      string    `json:"profile_url,omitempty"`
	ParticipantName string    `json:"participant_name,omitempty"`
	Incoming        bool      `json:"incoming"`
	ThreadURL       string    `json:"thread_url,omitempty"`
}

// NormalizeProfileURL strips query string, fragment and trailing slashes.
func NormalizeProfileURL(raw string) string {
	return leads.NormalizeProfileURL(raw)
}

// Token returns the dedup token for a message attributed to profileURL.
// The timestamp is rounded to whole seconds so that two polls reporting the
// same message with sub-second jitter agree.
func Token(observedAt time.Time, profileURL string) string {
	secs := observedAt.Round(time.Second).Unix()
	return strconv.FormatInt(secs, 10) + ":" + NormalizeProfileURL(profileURL)
}

// Actionable reports whether the message is an incoming message with text.
func (m Message) Actionable() bool {
	return m.Incoming && strings.TrimSpace(m.Text) != ""
}
