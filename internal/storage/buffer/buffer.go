package buffer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/tally/internal/storage/types"
)

// Buffer is a thread-safe, per-metric, append-only accumulation of samples
// awaiting the next flush. Insertion order within a metric is ingest order.
//
// A single mutex guards the map. Drain swaps the whole map for a fresh one
// under that mutex, so an Append racing with a Drain lands either in the
// drained generation or in the new one, never in both and never nowhere.
type Buffer struct {
	mu      sync.Mutex
	metrics map[string][]types.Sample
	count   int64

	// Statistics
	appendCount  atomic.Int64
	drainCount   atomic.Int64
	restoreCount atomic.Int64
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{
		metrics: make(map[string][]types.Sample),
	}
}

// Append adds a sample under its metric name.
func (b *Buffer) Append(sample types.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics[sample.MetricName] = append(b.metrics[sample.MetricName], sample)
	b.count++
	b.appendCount.Add(1)
}

// Drain atomically takes the entire buffered content and leaves an empty
// buffer behind. Metric keys without samples are never returned.
// Returns nil if nothing was buffered.
func (b *Buffer) Drain() map[string][]types.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	drained := b.metrics
	for name, samples := range drained {
		if len(samples) == 0 {
			delete(drained, name)
		}
	}

	b.drainCount.Add(b.count)
	b.metrics = make(map[string][]types.Sample)
	b.count = 0

	return drained
}

// Restore puts previously drained samples back in front of anything
// appended since the drain, so per-metric ingest order is preserved.
// Used when persisting a drained generation fails.
func (b *Buffer) Restore(drained map[string][]types.Sample) {
	if len(drained) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var restored int64
	for name, older := range drained {
		if len(older) == 0 {
			continue
		}
		newer := b.metrics[name]
		merged := make([]types.Sample, 0, len(older)+len(newer))
		merged = append(merged, older...)
		merged = append(merged, newer...)
		b.metrics[name] = merged
		restored += int64(len(older))
	}

	b.count += restored
	b.restoreCount.Add(restored)
}

// Snapshot returns a copy of the samples currently buffered for name.
func (b *Buffer) Snapshot(name string) []types.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	samples, ok := b.metrics[name]
	if !ok {
		return nil
	}
	out := make([]types.Sample, len(samples))
	copy(out, samples)
	return out
}

// Has returns true if the buffer holds a key for name.
func (b *Buffer) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.metrics[name]
	return ok
}

// MetricNames returns the buffered metric names, sorted.
func (b *Buffer) MetricNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.metrics))
	for name := range b.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the current number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.count)
}

// IsEmpty returns true if the buffer is empty.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	count := int(b.count)
	metrics := len(b.metrics)
	b.mu.Unlock()

	return BufferStats{
		Count:        count,
		Metrics:      metrics,
		AppendCount:  b.appendCount.Load(),
		DrainCount:   b.drainCount.Load(),
		RestoreCount: b.restoreCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Count        int
	Metrics      int
	AppendCount  int64
	DrainCount   int64
	RestoreCount int64
}
