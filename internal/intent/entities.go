package intent

import (
	"regexp"
	"strings"

	"support-agent/internal/domain"
)

var (
	orderNumberRe = regexp.MustCompile(`\b[A-Z0-9]{6,20}\b`)
	hasLetterRe   = regexp.MustCompile(`[A-Z]`)
	hasDigitRe    = regexp.MustCompile(`[0-9]`)
	emailRe       = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe       = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	amountRe      = regexp.MustCompile(`\$\d+(?:\.\d{2})?`)
	dateRe        = regexp.MustCompile(`\b(?:\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}-\d{1,2}-\d{4})\b`)
)

type product struct {
	name    string
	pattern *regexp.Regexp
}

var products = func() []product {
	names := []string{"laptop", "phone", "tablet", "headphones", "keyboard", "mouse", "monitor", "watch"}
	out := make([]product, len(names))
	for i, n := range names {
		out[i] = product{name: n, pattern: regexp.MustCompile(`\b` + n + `s?\b`)}
	}
	return out
}()

// ExtractEntities pulls order numbers, contact details, amounts, dates and
// known product names out of utterance. Each list keeps first-seen order
// without duplicates.
//
// An order number is a 6 to 20 character alphanumeric token containing at
// least one letter and one digit, so plain words and bare phone digits are
// not mistaken for one.
func ExtractEntities(utterance string) domain.Entities {
	var e domain.Entities

	e.Emails = unique(emailRe.FindAllString(utterance, -1))
	e.PhoneNumbers = unique(phoneRe.FindAllString(utterance, -1))
	e.Amounts = unique(amountRe.FindAllString(utterance, -1))
	e.Dates = unique(dateRe.FindAllString(utterance, -1))

	// emails are blanked so their local parts are not read as order numbers
	upper := strings.ToUpper(emailRe.ReplaceAllString(utterance, " "))
	var orders []string
	for _, tok := range orderNumberRe.FindAllString(upper, -1) {
		if hasLetterRe.MatchString(tok) && hasDigitRe.MatchString(tok) {
			orders = append(orders, tok)
		}
	}
	e.OrderNumbers = unique(orders)

	lower := strings.ToLower(utterance)
	for _, p := range products {
		if p.pattern.MatchString(lower) {
			e.Products = append(e.Products, p.name)
		}
	}
	return e
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
