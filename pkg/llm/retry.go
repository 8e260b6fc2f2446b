// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sentinelworks/firecircle/pkg/errors"
)

// RetryConfig controls retry behavior for transient provider failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means +/-10% jitter.
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryingProvider wraps a Provider with exponential backoff retries. A
// participant is only reported failed to the deliberation once every attempt
// has been exhausted, so transient backend hiccups do not cost a voice.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// NewRetrying wraps inner with the given retry configuration.
func NewRetrying(inner Provider, cfg RetryConfig) *RetryingProvider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// Chat calls the inner provider, retrying recoverable failures with backoff.
func (r *RetryingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.New(errors.CodeTimeout, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", r.cfg.MaxAttempts)
			case <-time.After(r.backoff(attempt)):
			}
		}

		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !recoverable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff computes the exponential delay with jitter for the given attempt.
func (r *RetryingProvider) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1)))
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	if r.cfg.Jitter > 0 {
		jitter := float64(delay) * r.cfg.Jitter * 2 * (rand.Float64() - 0.5)
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// recoverable reports whether an error is worth retrying. Typed errors carry
// an explicit flag; anything else is assumed transient.
func recoverable(err error) bool {
	if err == nil {
		return false
	}
	if ce := errors.AsCircleError(err); ce != nil {
		return ce.Recoverable
	}
	return true
}
