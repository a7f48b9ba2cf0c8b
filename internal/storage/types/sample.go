package types

import (
	"maps"
	"sort"
	"strings"
	"time"
)

// Sample represents a single observation of a metric.
// This is the primary data unit flowing through the storage system.
// Samples are immutable once created by the ingest path.
type Sample struct {
	// Identity
	MetricName string `json:"name"`

	// Value is always finite; ingest rejects NaN and Inf.
	Value float64 `json:"value"`

	// Dimensions tag the observation (e.g. region=east). May be empty.
	Dimensions map[string]string `json:"dimensions"`

	// Timestamp is the recording time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewSample creates a sample stamped with the given time. The dimension map
// is copied so later mutation by the caller cannot reach the buffered sample.
func NewSample(name string, value float64, dims map[string]string, at time.Time) Sample {
	d := make(map[string]string, len(dims))
	maps.Copy(d, dims)
	return Sample{
		MetricName: name,
		Value:      value,
		Dimensions: d,
		Timestamp:  at.UnixMilli(),
	}
}

// TimestampTime returns the timestamp as a time.Time.
func (s *Sample) TimestampTime() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// HasDimensions reports whether every key/value pair in filter is present
// on the sample with an identical value.
func (s *Sample) HasDimensions(filter map[string]string) bool {
	for k, want := range filter {
		got, ok := s.Dimensions[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Key returns a unique identifier for this sample's series: the metric name
// followed by its dimensions in key order.
func (s *Sample) Key() string {
	if len(s.Dimensions) == 0 {
		return s.MetricName
	}

	keys := make([]string, 0, len(s.Dimensions))
	for k := range s.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(s.MetricName)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Dimensions[k])
	}
	return b.String()
}

// Shard is the persisted unit written by a single flush.
type Shard struct {
	// Timestamp is the shard creation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Metrics maps metric name to the samples buffered for it, in ingest order.
	Metrics map[string][]Sample `json:"metrics"`
}

// SampleCount returns the number of samples across all metrics in the shard.
func (s *Shard) SampleCount() int {
	n := 0
	for _, samples := range s.Metrics {
		n += len(samples)
	}
	return n
}

// IsEmpty returns true if the shard carries no samples.
func (s *Shard) IsEmpty() bool {
	return s.SampleCount() == 0
}
