// Package backoff provides exponential backoff computation for
// model-turn retry policies.
package backoff

import (
	"math"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the exponential base applied per attempt.
	Base float64
	// CapSeconds is the maximum backoff in whole seconds.
	CapSeconds float64
}

// RateLimitPolicy returns the policy used after rate-limit failures:
// min(60, 2^attempt) seconds.
func RateLimitPolicy() Policy {
	return Policy{Base: 2, CapSeconds: 60}
}

// TransientPolicy returns the shorter policy used after transient I/O
// failures: min(30, 2^attempt) seconds.
func TransientPolicy() Policy {
	return Policy{Base: 2, CapSeconds: 30}
}

// Compute calculates the backoff for a given attempt number.
// Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := math.Min(policy.CapSeconds, math.Pow(policy.Base, float64(attempt)))
	return time.Duration(seconds * float64(time.Second))
}

// Seconds returns the whole-second backoff for an attempt, as reported
// on retry events.
func Seconds(policy Policy, attempt int) int {
	return int(Compute(policy, attempt) / time.Second)
}
