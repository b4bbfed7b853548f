// ABOUTME: Counting wrapper around the validator
// ABOUTME: Tracks accepted readings and rejections per reason without surfacing errors

package validate

import (
	gosync "sync"
	"sync/atomic"

	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/models"
)

// Counts is a snapshot of filter counters.
type Counts struct {
	Accepted int64            `json:"accepted"`
	Rejected map[Reason]int64 `json:"rejected"`
}

// TotalRejected sums rejections across reasons.
func (c Counts) TotalRejected() int64 {
	var n int64
	for _, v := range c.Rejected {
		n += v
	}
	return n
}

// Filter validates readings and counts the outcome.
type Filter struct {
	v        *Validator
	metrics  *metrics.Metrics
	accepted atomic.Int64

	mu       gosync.Mutex
	rejected map[Reason]*atomic.Int64
}

// NewFilter wraps v. m may be nil.
func NewFilter(v *Validator, m *metrics.Metrics) *Filter {
	f := &Filter{v: v, metrics: m, rejected: make(map[Reason]*atomic.Int64, len(Reasons))}
	for _, r := range Reasons {
		f.rejected[r] = &atomic.Int64{}
	}
	return f
}

// Validate is Validator.Validate plus bookkeeping.
func (f *Filter) Validate(sessionID string, raw models.RawReading, prev *models.LocationSample) (*models.LocationSample, Reason) {
	sample, reason := f.v.Validate(sessionID, raw, prev)
	if reason == Accepted {
		f.accepted.Add(1)
		f.metrics.ReadingAccepted()
		return sample, reason
	}

	f.mu.Lock()
	c, ok := f.rejected[reason]
	if !ok {
		c = &atomic.Int64{}
		f.rejected[reason] = c
	}
	f.mu.Unlock()
	c.Add(1)
	f.metrics.ReadingRejected(string(reason))
	return nil, reason
}

// Counts returns a snapshot of the counters.
func (f *Filter) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := Counts{Accepted: f.accepted.Load(), Rejected: make(map[Reason]int64, len(f.rejected))}
	for r, c := range f.rejected {
		if n := c.Load(); n > 0 {
			out.Rejected[r] = n
		}
	}
	return out
}
