// Package intent tags utterances with a coarse topic using keyword patterns.
package intent

import (
	"regexp"
	"strings"

	"support-agent/internal/domain"
)

type rule struct {
	intent  domain.Intent
	pattern *regexp.Regexp
}

// rules are checked in declaration order; on equal counts the earlier rule wins.
var rules = []rule{
	{domain.IntentGreeting, regexp.MustCompile(`\b(hello|hi|hey|good morning|good afternoon|good evening)\b`)},
	{domain.IntentOrderStatus, regexp.MustCompile(`\b(track|tracking|order|delivery|shipped|shipping)\b`)},
	{domain.IntentBilling, regexp.MustCompile(`\b(bill|charge|payment|invoice|refund|money|cost|price)\b`)},
	{domain.IntentReturns, regexp.MustCompile(`\b(return|exchange|defective|damaged|broken|wrong item)\b`)},
	{domain.IntentAccount, regexp.MustCompile(`\b(password|login|account|profile|settings|username)\b`)},
	{domain.IntentProductInfo, regexp.MustCompile(`\b(product|item|specification|details|features|size)\b`)},
	{domain.IntentComplaint, regexp.MustCompile(`\b(complaint|dissatisfied|problem|issue|frustrated|angry|terrible)\b`)},
	{domain.IntentCompliment, regexp.MustCompile(`\b(great|excellent|amazing|satisfied|happy|love|perfect)\b`)},
	{domain.IntentTechnicalSupport, regexp.MustCompile(`\b(error|bug|not working|broken|crash|technical)\b`)},
	{domain.IntentCancellation, regexp.MustCompile(`\b(cancel|cancellation|stop|remove)\b`)},
}

// Classify returns the intent whose pattern matches utterance most often, or
// IntentGeneral when nothing matches.
func Classify(utterance string) domain.Intent {
	text := strings.ToLower(utterance)

	best, bestCount := domain.IntentGeneral, 0
	for _, r := range rules {
		if n := len(r.pattern.FindAllStringIndex(text, -1)); n > bestCount {
			best, bestCount = r.intent, n
		}
	}
	return best
}
