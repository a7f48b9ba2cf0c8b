package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/tally/internal/storage/types"
)

// quantiles reported in every summary, in Summary field order.
var quantiles = []float64{0.50, 0.90, 0.95, 0.99}

// Stream is the running summary of one metric. Exact moments are kept
// alongside a DDSketch that answers quantiles within a relative error.
type Stream struct {
	mu sync.Mutex

	name string

	n          int64
	total      float64
	lo, hi     float64
	oldest     int64
	newest     int64
	seenSample bool

	// nil when the accuracy was rejected by ddsketch
	sketch *ddsketch.DDSketch
}

// NewStream returns an empty summary for name. accuracy is the relative
// quantile error, e.g. 0.01 for 1%.
func NewStream(name string, accuracy float64) *Stream {
	st := &Stream{
		name: name,
		lo:   math.Inf(1),
		hi:   math.Inf(-1),
	}
	if sk, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		st.sketch = sk
	}
	return st
}

// Observe folds one sample into the summary.
func (st *Stream) Observe(s types.Sample) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.n++
	st.total += s.Value
	st.lo = math.Min(st.lo, s.Value)
	st.hi = math.Max(st.hi, s.Value)

	switch {
	case !st.seenSample:
		st.oldest, st.newest = s.Timestamp, s.Timestamp
		st.seenSample = true
	case s.Timestamp < st.oldest:
		st.oldest = s.Timestamp
	case s.Timestamp > st.newest:
		st.newest = s.Timestamp
	}

	if st.sketch != nil {
		// Out-of-range values still count, they only miss the quantiles.
		_ = st.sketch.Add(s.Value)
	}
}

// Len returns the number of observed samples.
func (st *Stream) Len() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.n
}

// Name returns the metric name.
func (st *Stream) Name() string {
	return st.name
}

// Summary snapshots the current state. An empty stream yields zero moments
// and no percentiles.
func (st *Stream) Summary() types.Summary {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := types.Summary{
		MetricName: st.name,
		Count:      st.n,
		Sum:        st.total,
		FirstTs:    st.oldest,
		LastTs:     st.newest,
	}
	if st.n == 0 {
		return out
	}

	out.Min, out.Max = st.lo, st.hi
	out.Avg = st.total / float64(st.n)

	if st.sketch == nil || st.sketch.IsEmpty() {
		return out
	}
	if q, err := st.sketch.GetValuesAtQuantiles(quantiles); err == nil {
		out.SetPercentiles(q[0], q[1], q[2], q[3])
	}
	return out
}
