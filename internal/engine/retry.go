package engine

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"syscall"
	"time"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// RetryPolicy controls how transient step failures are retried. Delays
// follow base*2^attempt capped at MaxDelay, plus random jitter up to 25% of
// the computed delay. Jitter never pushes a delay below the unjittered
// value.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Rand supplies jitter randomness; tests inject a seeded source.
	Rand *rand.Rand
}

// DefaultRetryPolicy mirrors typical provider guidance: three retries
// starting at half a second, capped at thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// Delay computes the backoff before retry number attempt (zero-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay + p.jitter(delay/4)
}

func (p RetryPolicy) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if p.Rand != nil {
		return time.Duration(p.Rand.Int63n(int64(max) + 1))
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// transientCodes are provider error codes retried regardless of HTTP status.
var transientCodes = map[string]struct{}{
	"rate_limited": {},
	"rate_limit":   {},
	"circuit_open": {},
}

// Transient reports whether an error is worth retrying: rate-limit or
// circuit-open codes, recognized transient network failures, HTTP 429, or
// any 5xx. Everything else fails the step immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var toolErr *runweaveerrors.ToolError
	if errors.As(err, &toolErr) {
		if _, ok := transientCodes[toolErr.Code]; ok {
			return true
		}
		if toolErr.HTTPStatus == 429 || toolErr.HTTPStatus >= 500 {
			return true
		}
		// A ToolError with a non-transient code wraps a permanent
		// provider response even when the underlying transport error
		// would otherwise look retryable.
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ENETUNREACH,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}
