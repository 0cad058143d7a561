package outreach

import "time"

// Outcome of a single batch item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip and failure reasons recorded on items.
const (
	ReasonNotIncoming    = "not_incoming"
	ReasonNoLead         = "no_lead"
	ReasonNotContacted   = "not_contacted"
	ReasonStateChanged   = "state_changed"
	ReasonSendFailed     = "send_failed"
	ReasonNoCredentials  = "no_credentials"
	ReasonNothingToDo    = "nothing_to_do"
	ReasonStoreError     = "store_error"
	ReasonMatchError     = "match_error"
	ReasonGuardError     = "guard_error"
	ReasonChannelFailure = "channel_failure"
)

// ItemResult is the outcome for one message or lead in a batch.
type ItemResult struct {
	Key     string  `json:"key"`
	LeadID  string  `json:"lead_id,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Report aggregates one job invocation.
type Report struct {
	Job        string       `json:"job"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Abandoned  bool         `json:"abandoned"`
	Items      []ItemResult `json:"items"`
}

// Counts tallies items by outcome.
type Counts struct {
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// NewReport starts a report for job.
func NewReport(job string, startedAt time.Time) *Report {
	return &Report{Job: job, StartedAt: startedAt, Items: []ItemResult{}}
}

func (r *Report) add(item ItemResult) {
	r.Items = append(r.Items, item)
}

// Counts tallies the report's items.
func (r *Report) Counts() Counts {
	var c Counts
	for _, it := range r.Items {
		switch it.Outcome {
		case OutcomeSuccess:
			c.Success++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeFailed:
			c.Failed++
		}
	}
	return c
}

// Duration is the wall time between start and finish.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedKeys lists the keys of failed items.
func (r *Report) FailedKeys() []string {
	keys := make([]string, 0)
	for _, it := range r.Items {
		if it.Outcome == OutcomeFailed {
			keys = append(keys, it.Key)
		}
	}
	return keys
}

func success(key, leadID string) ItemResult {
	return ItemResult{Key: key, LeadID: leadID, Outcome: OutcomeSuccess}
}

func skipped(key, leadID, reason string) ItemResult {
	return ItemResult{Key: key, LeadID: leadID, Outcome: OutcomeSkipped, Reason: reason}
}

func failed(key, leadID, reason string) ItemResult {
	return ItemResult{Key: key, LeadID: leadID, Outcome: OutcomeFailed, Reason: reason}
}
