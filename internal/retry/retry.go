// Package retry decides whether a failed run is worth another attempt.
package retry

import (
	"math"
	"rsynco/internal/model"
	"time"
)

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

var GiveUp = Decision{}

// Retryable reports whether a failure of this kind may clear up on its own.
func Retryable(kind model.FailureKind) bool {
	switch kind {
	case model.FailureTimeout,
		model.FailureConnectionReset,
		model.FailurePartialTransfer,
		model.FailureUnreachable:
		return true
	default:
		return false
	}
}

// ShouldRetry decides on the attempt that just produced result. attempt
// starts at 1.
func (p Policy) ShouldRetry(result model.RunResult, attempt int) Decision {
	if result.Succeeded() || !Retryable(result.Failure) {
		return GiveUp
	}

	if attempt >= p.maxAttempts() {
		return GiveUp
	}

	return Decision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff is the wait after the given failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}
