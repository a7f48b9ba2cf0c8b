package types

import (
	"fmt"
	"slices"
)

// MetricKind indicates how a metric's values are to be interpreted.
type MetricKind int

const (
	// KindCounter is a monotonically increasing count (e.g., requests served).
	KindCounter MetricKind = iota + 1
	// KindGauge is a point-in-time measurement (e.g., CPU usage).
	KindGauge
	// KindHistogram is a distribution of observations (e.g., latencies).
	KindHistogram
	// KindSummary is a client-side summarised distribution.
	KindSummary
)

// String returns a human-readable representation of the MetricKind.
func (k MetricKind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	case KindSummary:
		return "summary"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Valid returns true if k is one of the recognized kinds.
func (k MetricKind) Valid() bool {
	return k >= KindCounter && k <= KindSummary
}

// ParseMetricKind parses a string into a MetricKind.
func ParseMetricKind(s string) (MetricKind, error) {
	switch s {
	case "counter":
		return KindCounter, nil
	case "gauge":
		return KindGauge, nil
	case "histogram":
		return KindHistogram, nil
	case "summary":
		return KindSummary, nil
	default:
		return 0, fmt.Errorf("unknown metric kind: %q", s)
	}
}

// AllMetricKinds returns all recognized kinds in order.
func AllMetricKinds() []MetricKind {
	return []MetricKind{KindCounter, KindGauge, KindHistogram, KindSummary}
}

// MetricDefinition is the schema of a metric. Lookup is by exact name.
type MetricDefinition struct {
	Name        string
	Kind        MetricKind
	Description string
	Unit        string // optional
}

// DimensionDefinition is the schema of a dimension label.
type DimensionDefinition struct {
	Name        string
	Description string

	// AllowedValues restricts the values a sample may carry for this
	// dimension. Empty means any value is permitted.
	AllowedValues []string
}

// Restricted returns true if the dimension limits its values.
func (d *DimensionDefinition) Restricted() bool {
	return len(d.AllowedValues) > 0
}

// Allows reports whether v is an acceptable value for the dimension.
func (d *DimensionDefinition) Allows(v string) bool {
	if !d.Restricted() {
		return true
	}
	return slices.Contains(d.AllowedValues, v)
}
