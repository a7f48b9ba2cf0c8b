// Package stats computes summary statistics over sample sets.
//
// Calculate is pure. Count covers every entry; the numeric fields only
// cover entries whose value is numeric and are nil when there are none.
package stats

import (
	"math"
	"sort"

	"github.com/xtxerr/tally/internal/storage/types"
)

// Statistics is the result of Calculate. Nil fields marshal as JSON null.
type Statistics struct {
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Sum    *float64 `json:"sum"`
	Avg    *float64 `json:"avg"`
	Median *float64 `json:"median"`
	P95    *float64 `json:"p95"`
}

// IsEmpty returns true if no numeric values contributed.
func (s *Statistics) IsEmpty() bool {
	return s.Min == nil
}

// Calculate summarises entries. An entry is a bare value, a types.Sample or
// *types.Sample, or an object such as decoded JSON {"value": 10}; for the
// last three the value field is used. Values that are not numbers are
// counted but otherwise ignored.
func Calculate(entries []any) Statistics {
	values := make([]float64, 0, len(entries))
	for _, e := range entries {
		if v, ok := valueOf(e); ok {
			values = append(values, v)
		}
	}
	return summarise(len(entries), values)
}

// OfSamples summarises persisted samples.
func OfSamples(samples []types.Sample) Statistics {
	values := make([]float64, 0, len(samples))
	for i := range samples {
		v := samples[i].Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}
	return summarise(len(samples), values)
}

func valueOf(e any) (float64, bool) {
	switch s := e.(type) {
	case types.Sample:
		return types.ToFloat(s.Value)
	case *types.Sample:
		if s == nil {
			return 0, false
		}
		return types.ToFloat(s.Value)
	case map[string]any:
		return types.ToFloat(s["value"])
	case map[string]float64:
		v, ok := s["value"]
		return v, ok && !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return types.ToFloat(e)
	}
}

func summarise(count int, values []float64) Statistics {
	st := Statistics{Count: count}
	if len(values) == 0 {
		return st
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	st.Min = ptr(sorted[0])
	st.Max = ptr(sorted[n-1])
	st.Sum = ptr(sum)
	st.Avg = ptr(sum / float64(n))
	st.Median = ptr(Median(sorted))
	st.P95 = ptr(NearestRank(sorted, 0.95))

	return st
}

// Median returns the middle of an ascending slice, averaging the two
// middle values for even lengths. sorted must not be empty.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// NearestRank returns the p-quantile (0 < p <= 1) of an ascending slice
// without interpolation: index ceil(p*N)-1 clamped to [0, N-1].
// sorted must not be empty.
func NearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func ptr(v float64) *float64 {
	return &v
}
