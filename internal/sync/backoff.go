// ABOUTME: Exponential retry backoff for failed batches
// ABOUTME: Delay doubles per attempt and is capped at a maximum

package sync

import "time"

// Backoff computes retry delays as min(Base * 2^k, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at two seconds and caps at five minutes.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 5 * time.Minute}
}

// Delay returns the wait before attempt k. It is non-decreasing in k and
// never exceeds Max. k < 1 yields zero.
func (b Backoff) Delay(k int) time.Duration {
	if k < 1 || b.Base <= 0 {
		return 0
	}
	limit := b.Max
	if limit <= 0 {
		limit = b.Base
	}
	d := b.Base
	for i := 0; i < k; i++ {
		if d >= limit || d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
