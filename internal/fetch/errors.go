package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for fetch failure classification. Every error a Fetcher
// returns should wrap exactly one of these; the retry policy and the
// scheduler's fallback reporting both classify with errors.Is.
var (
	// ErrTransientNetwork marks connection resets, timeouts, and other
	// failures worth retrying.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrRateLimited marks upstream throttling; retryable with a longer
	// backoff floor.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound marks a source video that no longer exists upstream.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRange marks a requested time range the source video cannot
	// satisfy.
	ErrInvalidRange = errors.New("invalid range")
	// ErrLocalIO marks a local environment failure (unwritable destination,
	// disk full). Fatal: it will recur for every subsequent task.
	ErrLocalIO = errors.New("local io error")
)

// Wrap builds an error message with operation context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrTransientNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTerminal reports whether err should route straight to placeholder
// synthesis without retrying.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRange)
}

// IsFatal reports whether err should abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLocalIO)
}

// Fallback reason strings recorded on placeholder results.
const (
	ReasonNotFound           = "not_found"
	ReasonInvalidRange       = "invalid_range"
	ReasonRateLimited        = "rate_limited"
	ReasonNetworkError       = "network_error"
	ReasonLocalIO            = "local_io_error"
	ReasonJobCancelled       = "job_cancelled"
	ReasonSynthesisFailed    = "placeholder_synthesis_failed"
	ReasonUnclassifiedError  = "unclassified_error"
)

// ReasonFor maps a classified fetch error to the fallback reason recorded on
// the resulting placeholder.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInvalidRange):
		return ReasonInvalidRange
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrLocalIO):
		return ReasonLocalIO
	case errors.Is(err, ErrTransientNetwork), errors.Is(err, context.DeadlineExceeded):
		return ReasonNetworkError
	default:
		return ReasonUnclassifiedError
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "fetch failure"
	}
	return strings.Join(parts, ": ")
}
