package types

import "time"

// Summary represents running statistics for one metric since the live
// aggregator started. Quantiles are approximate (relative-accuracy sketch).
type Summary struct {
	MetricName string

	// Basic statistics (always present)
	Count int64   // Number of samples observed
	Sum   float64 // Sum of all values
	Min   float64 // Minimum value
	Max   float64 // Maximum value
	Avg   float64 // Average value (Sum / Count)

	// Percentiles (nil until at least one sample arrived)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64

	// Timestamps of actual samples
	FirstTs int64
	LastTs  int64
}

// FirstTime returns the first sample timestamp as a time.Time.
func (s *Summary) FirstTime() time.Time {
	return time.UnixMilli(s.FirstTs)
}

// LastTime returns the last sample timestamp as a time.Time.
func (s *Summary) LastTime() time.Time {
	return time.UnixMilli(s.LastTs)
}

// IsEmpty returns true if no samples were aggregated.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *Summary) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}
