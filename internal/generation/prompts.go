package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/outreach-orchestrator/internal/leads"
)

const systemPrompt = "You write short, natural LinkedIn messages for a sales development rep. " +
	"Never sound salesy or robotic. Reply with the message text only."

func leadLine(lead *leads.Lead) string {
	return fmt.Sprintf("Lead: name=%s, role=%s, company=%s.", lead.Name, lead.Role, lead.Company)
}

func openingPrompt(lead *leads.Lead) string {
	return "Write a concise, warm first message. Personalize using the info. 400 characters max.\n" +
		leadLine(lead)
}

func followUpPrompt(lead *leads.Lead, context []string) string {
	return "Write a short, friendly follow-up referencing the ongoing context if useful. " +
		"Be human, 350 characters max.\n" +
		leadLine(lead) + "\n" +
		"Context:\n" + strings.Join(context, "\n")
}

func replyPrompt(lead *leads.Lead, context []string, inbound string) string {
	return "Write a helpful, succinct reply. Be natural, avoid over-formality. 500 characters max.\n" +
		leadLine(lead) + "\n" +
		"Context:\n" + strings.Join(context, "\n") + "\n" +
		"Prospect said: " + inbound
}

func classifyPrompt(reply string) string {
	return "Classify the prospect's reply from a sales prospecting conversation. " +
		"Return only JSON with keys: interest (interested|not interested|unsure), action (next step), summary.\n" +
		"Reply: " + reply
}

// ParseClassification reads model output tolerantly: code fences and
// surrounding prose are ignored, and anything unparseable becomes unsure.
func ParseClassification(text string) Classification {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var parsed struct {
		Interest string `json:"interest"`
		Action   string `json:"action"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Classification{
			Interest: leads.InterestUnsure,
			Action:   ActionAck,
			Summary:  truncateRunes(strings.TrimSpace(text), 500),
		}
	}
	out := Classification{
		Interest: leads.ParseInterest(parsed.Interest),
		Action:   strings.TrimSpace(parsed.Action),
		Summary:  strings.TrimSpace(parsed.Summary),
	}
	if out.Action == "" {
		out.Action = ActionAck
	}
	return out
}
