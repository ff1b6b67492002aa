// Package retry supplies the delay policy guarding outbound calls, such as
// the REST store's round trips to the upstream controller.
package retry

import "time"

// Backoff computes the delay before the next retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay per attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

var _ Backoff = ExponentialBackoff{}

// Next returns the delay for the given attempt. Attempts count from 1;
// anything lower is treated as the first attempt. A zero Base falls back
// to 100ms.
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// DefaultBackoff is the policy used when callers configure nothing:
// 100ms doubling up to a 5s ceiling.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		Base: 100 * time.Millisecond,
		Max:  5 * time.Second,
	}
}
