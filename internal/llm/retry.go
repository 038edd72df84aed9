package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// Retrying wraps a Client with the bounded retry behavior described by a
// RetryPolicy. Rate limits retry with exponential backoff; timeouts use the
// shorter budget and then surface ErrUnavailable.
type Retrying struct {
	inner  Client
	policy RetryPolicy

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewRetrying wraps inner with retry behavior.
func NewRetrying(inner Client, policy RetryPolicy) *Retrying {
	return &Retrying{inner: inner, policy: policy, sleep: time.Sleep}
}

// Classify calls the inner client, retrying per policy.
func (r *Retrying) Classify(ctx context.Context, text, instructions string) (string, error) {
	var lastErr error
	timeouts := 0

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if r.policy.PerCallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.PerCallTimeout)
		}

		reply, err := r.inner.Classify(callCtx, text, instructions)
		cancel()

		if err == nil {
			if r.policy.Cooldown > 0 {
				r.sleep(r.policy.Cooldown)
			}
			return reply, nil
		}
		lastErr = err

		// The parent context being done is not a provider failure.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if isTimeout(err) {
			timeouts++
			if timeouts >= r.policy.TimeoutAttempts {
				return "", fmt.Errorf("%w: %d timeouts: %v", ErrUnavailable, timeouts, err)
			}
			log.Printf("[llm] timeout (attempt %d/%d), retrying in %s",
				timeouts, r.policy.TimeoutAttempts, r.policy.BaseDelay)
			r.sleep(r.policy.BaseDelay)
			continue
		}

		if isRateLimited(err) {
			delay := r.policy.Backoff(attempt)
			log.Printf("[llm] rate limited (attempt %d/%d), waiting %s",
				attempt+1, r.policy.MaxAttempts, delay)
			r.sleep(delay)
			continue
		}

		if attempt < r.policy.MaxAttempts-1 {
			delay := r.policy.Backoff(attempt)
			log.Printf("[llm] request failed: %v, retrying in %s", err, delay)
			r.sleep(delay)
		}
	}

	return "", fmt.Errorf("classification failed after %d attempts: %w",
		r.policy.MaxAttempts, lastErr)
}

// Close closes the inner client.
func (r *Retrying) Close() error {
	return r.inner.Close()
}

// isRateLimited reports whether err looks like a provider rate-limit reply.
func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RateLimit") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}

// isTimeout reports whether err is a network or deadline timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "deadline exceeded")
}
