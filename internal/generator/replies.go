package generator

import (
	"fmt"
	"strings"

	"support-agent/internal/domain"
)

const (
	rateLimitedReply = "I'm experiencing high demand right now. Please try again in a moment."
	unavailableReply = "I apologize, but I'm experiencing technical difficulties. Please try again in a moment or contact our support team directly."
)

// FallbackReply is the canned text sent to the user when generation fails.
func FallbackReply(kind Kind) string {
	if kind == KindRateLimited {
		return rateLimitedReply
	}
	return unavailableReply
}

// BusinessInfo is the contact data quoted in prompts and hand-off replies.
type BusinessInfo struct {
	CompanyName  string
	SupportEmail string
	SupportPhone string
	SupportHours string
}

// EscalationReply tells the user the conversation is being handed to a human
// and how to reach the support team meanwhile.
func EscalationReply(info BusinessInfo, in domain.Intent) string {
	lines := []string{
		"I understand you need additional assistance, and I'd be happy to connect you with one of our human support specialists.",
	}
	if contact := contactLines(info); len(contact) > 0 {
		lines = append(lines, "", "You can also reach us directly:")
		lines = append(lines, contact...)
	}
	if in != "" && in != domain.IntentGeneral {
		lines = append(lines, "", fmt.Sprintf("A human agent will follow up on your %s inquiry.", strings.ReplaceAll(string(in), "_", " ")))
	} else {
		lines = append(lines, "", "A human agent will follow up with you shortly.")
	}
	return strings.Join(lines, "\n")
}

func contactLines(info BusinessInfo) []string {
	var out []string
	if v := strings.TrimSpace(info.SupportEmail); v != "" {
		out = append(out, "- Email: "+v)
	}
	if v := strings.TrimSpace(info.SupportPhone); v != "" {
		out = append(out, "- Phone: "+v)
	}
	if v := strings.TrimSpace(info.SupportHours); v != "" {
		out = append(out, "- Hours: "+v)
	}
	return out
}
