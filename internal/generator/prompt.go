package generator

import (
	"fmt"
	"strings"

	"support-agent/internal/domain"
)

func buildPromptMessages(info BusinessInfo, req Request, window int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildSystemPrompt(info, req.Intent, req.Entities)},
	}
	for _, t := range lastTurns(req.History, window) {
		messages = append(messages, t.Messages()...)
	}
	return append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: req.Utterance,
	})
}

func buildSystemPrompt(info BusinessInfo, in domain.Intent, ents domain.Entities) string {
	company := strings.TrimSpace(info.CompanyName)
	if company == "" {
		company = "our company"
	}
	if in == "" {
		in = domain.IntentGeneral
	}
	lines := []string{
		fmt.Sprintf("You are a helpful customer support assistant for %s.", company),
		"",
		"Role:",
		"- Provide accurate, helpful, and friendly customer support.",
		"- Be empathetic and offer specific solutions when possible.",
		"- Ask a clarifying question when the request is ambiguous.",
		"",
	}
	if contact := contactLines(info); len(contact) > 0 {
		lines = append(lines, "Business Information:")
		lines = append(lines, contact...)
		lines = append(lines, "")
	}
	lines = append(lines,
		"Current Intent: "+string(in),
		"",
	)
	if !ents.Empty() {
		lines = append(lines, "Extracted Entities:")
		lines = append(lines, entityLines(ents)...)
		lines = append(lines, "")
	}
	lines = append(lines,
		"Guidelines:",
		"- Keep responses concise but complete.",
		"- Use a friendly, professional tone.",
		"- If you cannot help, offer to connect the customer with a human agent.",
	)
	return strings.Join(lines, "\n")
}

func entityLines(e domain.Entities) []string {
	var out []string
	add := func(label string, vals []string) {
		if len(vals) > 0 {
			out = append(out, "- "+label+": "+strings.Join(vals, ", "))
		}
	}
	add("Order numbers", e.OrderNumbers)
	add("Emails", e.Emails)
	add("Phone numbers", e.PhoneNumbers)
	add("Amounts", e.Amounts)
	add("Dates", e.Dates)
	add("Products", e.Products)
	return out
}

func lastTurns(history []domain.Turn, n int) []domain.Turn {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
