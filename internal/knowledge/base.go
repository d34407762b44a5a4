// Package knowledge implements the FAQ knowledge base: keyword lookup with a
// deterministic relevance score.
package knowledge

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"support-agent/internal/domain"
	"support-agent/internal/textnorm"
)

var (
	ErrDuplicateEntry = errors.New("knowledge: entry already exists")
	ErrEntryNotFound  = errors.New("knowledge: entry not found")
)

// index is immutable once published. Writers build a new one and swap the
// pointer, so readers always see a complete index.
type index struct {
	entries   map[string]domain.FAQEntry
	byKeyword map[string][]string
}

// Base stores FAQ entries and answers keyword queries. Searches are lock-free;
// Add and Remove are serialized among themselves.
type Base struct {
	mu  sync.Mutex
	idx atomic.Pointer[index]
}

// New creates a Base seeded with entries.
func New(entries ...domain.FAQEntry) (*Base, error) {
	b := &Base{}
	b.idx.Store(buildIndex(map[string]domain.FAQEntry{}))
	if len(entries) == 0 {
		return b, nil
	}

	seed := make(map[string]domain.FAQEntry, len(entries))
	for _, e := range entries {
		norm, err := normalizeEntry(e)
		if err != nil {
			return nil, err
		}
		if _, ok := seed[norm.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateEntry, norm.ID)
		}
		seed[norm.ID] = norm
	}
	b.idx.Store(buildIndex(seed))
	return b, nil
}

// Add inserts entry and rebuilds the keyword index.
func (b *Base) Add(entry domain.FAQEntry) error {
	norm, err := normalizeEntry(entry)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.idx.Load()
	if _, ok := cur.entries[norm.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, norm.ID)
	}
	next := make(map[string]domain.FAQEntry, len(cur.entries)+1)
	for id, e := range cur.entries {
		next[id] = e
	}
	next[norm.ID] = norm
	b.idx.Store(buildIndex(next))
	return nil
}

// Remove deletes the entry with id and rebuilds the keyword index.
func (b *Base) Remove(id string) error {
	id = strings.TrimSpace(id)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.idx.Load()
	if _, ok := cur.entries[id]; !ok {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, id)
	}
	next := make(map[string]domain.FAQEntry, len(cur.entries))
	for eid, e := range cur.entries {
		if eid != id {
			next[eid] = e
		}
	}
	b.idx.Store(buildIndex(next))
	return nil
}

// Get returns the entry with id.
func (b *Base) Get(id string) (domain.FAQEntry, bool) {
	e, ok := b.idx.Load().entries[strings.TrimSpace(id)]
	if !ok {
		return domain.FAQEntry{}, false
	}
	return cloneEntry(e), true
}

// Entries returns every entry ordered by id.
func (b *Base) Entries() []domain.FAQEntry {
	idx := b.idx.Load()
	out := make([]domain.FAQEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// Len returns the number of entries.
func (b *Base) Len() int {
	return len(b.idx.Load().entries)
}

// Search scores every entry sharing at least one keyword with the normalized
// query. Score is the number of distinct query tokens found in the entry's
// keyword set; results are ordered by score descending, then id ascending.
func (b *Base) Search(query string) []domain.ScoredEntry {
	idx := b.idx.Load()

	scores := make(map[string]int)
	seen := make(map[string]struct{})
	for _, tok := range textnorm.Tokenize(query) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		for _, id := range idx.byKeyword[tok] {
			scores[id]++
		}
	}
	if len(scores) == 0 {
		return nil
	}

	out := make([]domain.ScoredEntry, 0, len(scores))
	for id, score := range scores {
		out = append(out, domain.ScoredEntry{Entry: cloneEntry(idx.entries[id]), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return lessID(out[i].Entry.ID, out[j].Entry.ID)
	})
	return out
}

// BestMatch returns the top search result when its score reaches threshold.
// A false second value is the normal "no match" result, not an error.
func (b *Base) BestMatch(query string, threshold int) (domain.ScoredEntry, bool) {
	results := b.Search(query)
	if len(results) == 0 || results[0].Score < threshold {
		return domain.ScoredEntry{}, false
	}
	return results[0], true
}

func buildIndex(entries map[string]domain.FAQEntry) *index {
	byKeyword := make(map[string][]string)
	for id, e := range entries {
		for _, kw := range e.Keywords {
			byKeyword[kw] = append(byKeyword[kw], id)
		}
	}
	for kw := range byKeyword {
		ids := byKeyword[kw]
		sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	}
	return &index{entries: entries, byKeyword: byKeyword}
}

// normalizeEntry validates e and replaces its keywords with the sorted set of
// their tokens.
func normalizeEntry(e domain.FAQEntry) (domain.FAQEntry, error) {
	e.ID = strings.TrimSpace(e.ID)
	e.Question = strings.TrimSpace(e.Question)
	e.Answer = strings.TrimSpace(e.Answer)
	if e.ID == "" {
		return domain.FAQEntry{}, errors.New("knowledge: entry id must not be empty")
	}
	if e.Answer == "" {
		return domain.FAQEntry{}, fmt.Errorf("knowledge: entry %q has no answer", e.ID)
	}

	set := make(map[string]struct{})
	for _, kw := range e.Keywords {
		for _, tok := range textnorm.Tokenize(kw) {
			set[tok] = struct{}{}
		}
	}
	if len(set) == 0 {
		return domain.FAQEntry{}, fmt.Errorf("knowledge: entry %q has no keywords", e.ID)
	}
	keywords := make([]string, 0, len(set))
	for kw := range set {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	e.Keywords = keywords
	return e, nil
}

func cloneEntry(e domain.FAQEntry) domain.FAQEntry {
	e.Keywords = slices.Clone(e.Keywords)
	return e
}

// lessID orders numeric ids numerically and everything else lexically, with
// numeric ids first.
func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
