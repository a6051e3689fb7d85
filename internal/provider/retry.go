package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each retry; 2.0 is exponential.
	Multiplier float64
	// Jitter adds up to ±Jitter fraction of randomness to each delay.
	Jitter float64
}

// DefaultRetryConfig returns the gateway's standard policy: three attempts
// with jittered exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// retryable reports whether the call may succeed on another attempt. Network
// timeouts and provider 5xx/429 responses are retryable; credential and
// validation failures are not, nor is caller cancellation.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	switch errs.KindOf(err) {
	case errs.KindProviderTransient:
		return true
	case errs.KindProviderUnconfigured, errs.KindProviderFatal, errs.KindBadRequest:
		return false
	}
	// Unclassified errors from SDK transports are usually network-level.
	return true
}

// Retry runs fn with the configured policy. The last error is returned once
// attempts are exhausted; non-retryable errors return immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt >= cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffFor(cfg, attempt)):
		}
	}
	return lastErr
}

func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && backoff > max {
		backoff = max
	}
	if cfg.Jitter > 0 {
		backoff += backoff * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}
