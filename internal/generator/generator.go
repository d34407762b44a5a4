// Package generator produces free-form replies from a remote generative
// backend, bounding the history it sends and classifying every failure.
package generator

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-agent/internal/domain"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultHistoryWindow = 10
)

// Backend is the minimal capability a generative text service must offer.
type Backend interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

type Config struct {
	Timeout       time.Duration
	HistoryWindow int
	Business      BusinessInfo
}

// Request is one generation input. History is oldest first and may be longer
// than the configured window.
type Request struct {
	Utterance string
	History   []domain.Turn
	Intent    domain.Intent
	Entities  domain.Entities
}

type Generator struct {
	backend  Backend
	timeout  time.Duration
	window   int
	business BusinessInfo
}

func New(backend Backend, cfg Config) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("generator: backend must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Generator{
		backend:  backend,
		timeout:  cfg.Timeout,
		window:   cfg.HistoryWindow,
		business: cfg.Business,
	}, nil
}

// Generate asks the backend for a reply under the configured timeout. Any
// failure is returned as a *GenerationError.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.backend.Complete(ctx, buildPromptMessages(g.business, req, g.window))
	if err != nil {
		// a backend may swallow the deadline and report something else
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return "", &GenerationError{Kind: KindTimeout, Err: errors.Join(ctxErr, err)}
		}
		return "", &GenerationError{Kind: Classify(err), Err: err}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &GenerationError{Kind: KindInvalidResponse, Err: domain.ErrInvalidResponse}
	}
	return reply, nil
}

// Business returns the contact data the generator was configured with.
func (g *Generator) Business() BusinessInfo {
	return g.business
}
