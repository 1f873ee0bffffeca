// Package remoteerr classifies remote store failures so retry policy can
// distinguish transient faults from permanent ones.
package remoteerr

import (
	"errors"
	"fmt"
)

// Category determines how a failure is handled by retry logic.
type Category int

const (
	// Transient failures are retried with exponential backoff:
	// 5xx responses, timeouts, connection failures, 408/429.
	Transient Category = iota

	// Permanent failures fail immediately without retry:
	// 400, 401, 403, 404 and other client errors.
	Permanent
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Error wraps a remote failure with its category and HTTP metadata.
type Error struct {
	Category   Category
	StatusCode int    // 0 for non-HTTP failures
	Body       string // response body kept for diagnostics
	Underlying error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *Error) Unwrap() error { return e.Underlying }

// FromStatus builds a classified error for an HTTP response.
func FromStatus(statusCode int, body, operation string) *Error {
	return &Error{
		Category:   categoryFor(statusCode),
		StatusCode: statusCode,
		Body:       body,
		Underlying: fmt.Errorf("%s: HTTP %d", operation, statusCode),
	}
}

// FromNetwork builds a classified error for a network-level failure.
// Network failures are always transient.
func FromNetwork(operation string, err error) *Error {
	return &Error{
		Category:   Transient,
		Underlying: fmt.Errorf("%s: %w", operation, err),
	}
}

func categoryFor(statusCode int) Category {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429:
			return Transient
		default:
			return Permanent
		}
	default:
		// 5xx and anything unexpected: be conservative and retry.
		return Transient
	}
}

// IsPermanent reports whether err is classified as not worth retrying.
func IsPermanent(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Category == Permanent
	}
	return false
}
