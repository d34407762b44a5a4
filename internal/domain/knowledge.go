package domain

// FAQEntry is a predefined answer reachable through its keywords.
type FAQEntry struct {
	ID       string   `json:"id" yaml:"id"`
	Question string   `json:"question,omitempty" yaml:"question,omitempty"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Answer   string   `json:"answer" yaml:"answer"`
}

// ScoredEntry pairs an entry with the number of query tokens it matched.
type ScoredEntry struct {
	Entry FAQEntry `json:"entry"`
	Score int      `json:"score"`
}
