// Package backoff provides delay schedules for the retry package.
package backoff

import (
	"math"
	"time"
)

// Strategy maps an attempt number, starting at 1, to the delay before the
// next attempt.
type Strategy func(attempts uint) time.Duration

// Constant waits the same interval after every attempt.
func Constant(interval time.Duration) Strategy {
	return func(uint) time.Duration {
		return interval
	}
}

// Exponential waits baseDelay * base^(attempts-1). Delays that would overflow
// saturate at the maximum duration.
func Exponential(baseDelay time.Duration, base float64) Strategy {
	return func(attempts uint) time.Duration {
		if attempts == 0 {
			attempts = 1
		}

		delay := float64(baseDelay) * math.Pow(base, float64(attempts-1))
		if math.IsNaN(delay) || delay >= math.MaxInt64 {
			return math.MaxInt64
		}
		if delay < 0 {
			return 0
		}
		return time.Duration(delay)
	}
}

// BinaryExponential doubles the delay after every attempt, starting at
// baseDelay.
func BinaryExponential(baseDelay time.Duration) Strategy {
	return Exponential(baseDelay, 2)
}
