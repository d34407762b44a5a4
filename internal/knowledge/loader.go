package knowledge

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"support-agent/internal/domain"
)

// Seed is the on-disk shape of a knowledge-base file.
//
//	entries:
//	  - id: "1"
//	    question: How do I get a refund?
//	    keywords: [refund, return]
//	    answer: Refunds take 5 days.
type Seed struct {
	Entries []domain.FAQEntry `yaml:"entries"`
}

// LoadYAML decodes a seed document.
func LoadYAML(r io.Reader) ([]domain.FAQEntry, error) {
	if r == nil {
		return nil, errors.New("knowledge: reader must not be nil")
	}
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("knowledge: decode seed: %w", err)
	}
	return seed.Entries, nil
}

// LoadFile reads a YAML seed from path.
func LoadFile(path string) ([]domain.FAQEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}
