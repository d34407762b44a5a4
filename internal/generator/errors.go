package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"support-agent/internal/domain"
)

// Kind classifies why a generation attempt failed.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindRateLimited        Kind = "rate_limited"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInvalidResponse    Kind = "invalid_response"
)

// GenerationError is the only error type Generate returns.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("generator: %s", e.Kind)
	}
	return fmt.Sprintf("generator: %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify maps a backend error onto a Kind. Unrecognised errors count as the
// backend being unavailable.
func Classify(err error) Kind {
	var genErr *GenerationError
	switch {
	case errors.As(err, &genErr):
		return genErr.Kind
	case errors.Is(err, domain.ErrInvalidResponse):
		return KindInvalidResponse
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if status, ok := upstreamStatusCode(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return KindRateLimited
		case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
			return KindTimeout
		}
	}
	return KindBackendUnavailable
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
