// Package aggregate keeps approximate running summaries per metric.
//
// The Manager is fed by a broadcast subscription, so it sees every sample
// accepted since it was attached, whether or not it has been flushed yet.
package aggregate

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/tally/internal/storage/types"
)

// Manager manages streaming aggregates for multiple metrics.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	accuracy float64

	// Active aggregates: metric name -> aggregate
	aggregates map[string]*Stream

	// Statistics
	samplesProcessed atomic.Int64
	resets           atomic.Int64
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	ActiveAggregates int64
	SamplesProcessed int64
	Resets           int64
}

// NewManager creates a new aggregate manager with the given quantile
// accuracy.
func NewManager(accuracy float64) *Manager {
	return &Manager{
		accuracy:   accuracy,
		aggregates: make(map[string]*Stream),
	}
}

// Process adds a sample to its metric's aggregate. It matches the
// broadcast callback signature.
func (m *Manager) Process(sample types.Sample) {
	m.aggregate(sample.MetricName).Observe(sample)
	m.samplesProcessed.Add(1)
}

func (m *Manager) aggregate(name string) *Stream {
	m.mu.RLock()
	agg, ok := m.aggregates[name]
	m.mu.RUnlock()
	if ok {
		return agg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if agg, ok = m.aggregates[name]; !ok {
		agg = NewStream(name, m.accuracy)
		m.aggregates[name] = agg
	}
	return agg
}

// Summary returns the running summary for name.
func (m *Manager) Summary(name string) (types.Summary, bool) {
	m.mu.RLock()
	agg, ok := m.aggregates[name]
	m.mu.RUnlock()

	if !ok {
		return types.Summary{MetricName: name}, false
	}
	return agg.Summary(), true
}

// Summaries returns every running summary ordered by metric name.
func (m *Manager) Summaries() []types.Summary {
	m.mu.RLock()
	aggs := make([]*Stream, 0, len(m.aggregates))
	for _, agg := range m.aggregates {
		aggs = append(aggs, agg)
	}
	m.mu.RUnlock()

	sort.Slice(aggs, func(i, j int) bool {
		return aggs[i].Name() < aggs[j].Name()
	})

	out := make([]types.Summary, len(aggs))
	for i, agg := range aggs {
		out[i] = agg.Summary()
	}
	return out
}

// Reset clears the summary of one metric, or of all metrics when name is
// empty.
func (m *Manager) Reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		m.aggregates = make(map[string]*Stream)
	} else {
		delete(m.aggregates, name)
	}
	m.resets.Add(1)
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		ActiveAggregates: int64(m.ActiveCount()),
		SamplesProcessed: m.samplesProcessed.Load(),
		Resets:           m.resets.Load(),
	}
}

// ActiveCount returns the number of active aggregates.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aggregates)
}

