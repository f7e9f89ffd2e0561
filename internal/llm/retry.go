package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig defines the HTTP retry behavior an adapter applies to its
// own outbound calls. Failover across providers is a separate mechanism
// and never re-enters this loop.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first call.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// JitterFactor randomizes each delay by ±factor. Range 0.0-1.0.
	JitterFactor float64
}

// DefaultRetryConfig returns the retry defaults shared by all adapters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// IsRetryableStatusCode reports whether a vendor status warrants another
// attempt against the same backend. 429 is deliberately absent: rate
// limits surface immediately so failover can move to another provider.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether a transport error warrants another
// attempt. Context cancellation and deadline expiry are final.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// CalculateBackoff returns the jittered delay before the given retry
// attempt (attempt counts from 1).
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	if attempt <= 0 {
		return addJitter(config.InitialDelay, config.JitterFactor)
	}
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return addJitter(time.Duration(delay), config.JitterFactor)
}

// addJitter randomizes a delay by ±factor. math/rand suffices here.
func addJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	jitterRange := float64(d) * factor
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange // #nosec G404
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}
