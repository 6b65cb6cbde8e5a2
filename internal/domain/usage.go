package domain

// SearchUsage receives one outcome per strategy invocation.
type SearchUsage interface {
	TrackSuccess(tookMs int64)
	TrackError()
}

// UsageStats is a snapshot of recorded search outcomes.
type UsageStats struct {
	Successes   int64 `json:"successCount"`
	Errors      int64 `json:"errorCount"`
	TotalTookMs int64 `json:"totalTookMs"`
	AverageTook int64 `json:"averageTookMs"`
}
