// Package retry wraps any llm.Provider call with spec.md §4.8's retry
// policy. The backoff delay is computed with a deterministic jitter
// formula (pinned from the original Rust implementation's retry module)
// so tests stay reproducible instead of depending on math/rand.
package retry

import (
	"context"
	"time"

	"github.com/iterflow/agent/internal/rerr"
)

// Policy configures the retry wrapper. Defaults match spec.md §4.8.
type Policy struct {
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	JitterFrac    float64
	MaxRetries    int
}

// DefaultPolicy is spec.md §4.8's literal defaults.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:  2 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		JitterFrac:    0.2,
		MaxRetries:    8,
	}
}

// Do runs fn, retrying on retriable errors per Policy until it succeeds,
// exhausts MaxRetries, or ctx is cancelled. It sleeps between attempts
// using Delay, honoring a server-supplied retry_after_ms hint when the
// classified error carries one.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var rt *rerr.RuntimeError
		if re, ok := err.(*rerr.RuntimeError); ok {
			rt = re
		} else {
			rt = rerr.Classify(err, "", "")
		}
		if !rt.IsRetryable() || attempt == policy.MaxRetries {
			return zero, err
		}

		delay := Delay(policy, attempt, rt.RetryAfterMs)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// Delay computes the wait before attempt k (0-indexed). If retryAfterMs
// is non-zero it takes precedence and bypasses the backoff formula
// entirely, per spec.md §4.8.
func Delay(policy Policy, attempt int, retryAfterMs int64) time.Duration {
	if retryAfterMs > 0 {
		return time.Duration(retryAfterMs)*time.Millisecond + 100*time.Millisecond
	}

	base := float64(policy.InitialDelay) * pow(policy.BackoffFactor, attempt)
	if base > float64(policy.MaxDelay) {
		base = float64(policy.MaxDelay)
	}
	return time.Duration(base * Jitter(attempt, policy.JitterFrac))
}

// Jitter returns a deterministic multiplier in [1-f, 1+f] derived from
// attempt, matching the original implementation's hash-based formula:
// hash(attempt) = (attempt * 2654435761) mod 2^32 / 2^32.
func Jitter(attempt int, frac float64) float64 {
	h := hash(attempt)
	return 1 + frac*(2*h-1)
}

func hash(attempt int) float64 {
	const knuthMultiplier uint32 = 2654435761
	v := uint32(attempt) * knuthMultiplier
	return float64(v) / float64(uint64(1)<<32)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
