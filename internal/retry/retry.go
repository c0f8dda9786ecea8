// Package retry provides a bounded exponential backoff helper for upstream
// API calls. Retryability is decided by an explicit predicate over the
// returned error, never by matching error text.
package retry

import (
	"context"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
// Delays double after each attempt starting from InitialDelay.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultPolicy matches the upstream-API contract: 3 attempts with 1s/2s delays
// between them (1s + 2s + the final 4s cap never starts, total wait <= ~7s
// including the attempts themselves).
var DefaultPolicy = Policy{MaxAttempts: 3, InitialDelay: time.Second}

// Do runs fn until it succeeds, the attempts are exhausted, retryable reports
// the error as terminal, or ctx is done. It returns the last error observed.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt >= p.MaxAttempts || !retryable(err) {
			return zero, lastErr
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
