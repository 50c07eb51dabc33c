// Package retry classifies fetch failures and computes backoff delays for
// re-admission into the scheduler's ready queue.
package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"clipline/internal/fetch"
)

// Decision is the terminal classification of a fetch failure.
type Decision int

const (
	// Retryable failures re-enter the ready queue after backoff.
	Retryable Decision = iota
	// Terminal failures route straight to placeholder synthesis.
	Terminal
)

func (d Decision) String() string {
	if d == Terminal {
		return "terminal"
	}
	return "retryable"
}

// rateLimitFloor is the minimum backoff after upstream throttling. Doubling
// from the default base re-hits the limiter well before it resets.
const rateLimitFloor = 2 * time.Second

// jitterFraction spreads re-admission by ±20% to avoid a thundering herd of
// simultaneously retried fetches.
const jitterFraction = 0.2

// Classify maps an error onto a retry decision. Unclassified errors are
// retryable: failing open toward retrying loses time, failing toward
// terminal loses the clip.
func Classify(err error) Decision {
	if err == nil {
		return Retryable
	}
	if fetch.IsTerminal(err) {
		return Terminal
	}
	return Retryable
}

// BackoffFor returns the delay before re-admitting attempt+1. The schedule is
// base * 2^attempt with ±20% jitter and no cap: max_retry bounds the attempt
// count itself.
func BackoffFor(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	backoff := base << uint(attempt)
	return jittered(backoff)
}

// BackoffForError is BackoffFor with a longer floor applied after rate
// limiting.
func BackoffForError(err error, attempt int, base time.Duration) time.Duration {
	backoff := BackoffFor(attempt, base)
	if errors.Is(err, fetch.ErrRateLimited) && backoff < rateLimitFloor {
		return jittered(rateLimitFloor)
	}
	return backoff
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// Uniform in [1-jitterFraction, 1+jitterFraction).
	factor := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
	return time.Duration(float64(d) * factor)
}
