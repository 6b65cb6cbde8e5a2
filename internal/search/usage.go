package search

import (
	"sync/atomic"

	"query-enhancements/internal/domain"
)

var _ domain.SearchUsage = (*UsageTracker)(nil)

// UsageTracker counts search outcomes. It is safe for concurrent use.
type UsageTracker struct {
	successes atomic.Int64
	errors    atomic.Int64
	totalMs   atomic.Int64
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// TrackSuccess records a successful search that took tookMs milliseconds.
func (u *UsageTracker) TrackSuccess(tookMs int64) {
	u.successes.Add(1)
	u.totalMs.Add(tookMs)
}

// TrackError records a failed search.
func (u *UsageTracker) TrackError() {
	u.errors.Add(1)
}

// Stats returns a snapshot of the counters.
func (u *UsageTracker) Stats() domain.UsageStats {
	s := domain.UsageStats{
		Successes:   u.successes.Load(),
		Errors:      u.errors.Load(),
		TotalTookMs: u.totalMs.Load(),
	}
	if s.Successes > 0 {
		s.AverageTook = s.TotalTookMs / s.Successes
	}
	return s
}
