package aggregate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/tally/internal/storage/types"
)

// within reports whether got is inside the sketch's relative error of want.
func within(got, want, accuracy float64) bool {
	return math.Abs(got-want) <= math.Abs(want)*accuracy+1e-9
}

func observe(st *Stream, value float64, ts int64) {
	st.Observe(types.Sample{MetricName: st.Name(), Value: value, Timestamp: ts})
}

func TestStream_Basic(t *testing.T) {
	now := time.Now().UnixMilli()

	st := NewStream("cpu", 0.01)

	if st.Len() != 0 {
		t.Error("new stream should be empty")
	}
	if r := st.Summary(); r.HasPercentiles() || r.Min != 0 || r.Max != 0 || !r.IsEmpty() {
		t.Errorf("empty summary should be zeroed, got %+v", r)
	}

	observe(st, 20.0, now+1000)
	observe(st, 10.0, now)
	observe(st, 30.0, now+2000)

	if st.Len() != 3 {
		t.Errorf("expected 3 samples, got %d", st.Len())
	}

	r := st.Summary()
	if r.MetricName != "cpu" || r.Sum != 60.0 {
		t.Errorf("unexpected summary %+v", r)
	}
	if r.Min != 10.0 || r.Max != 30.0 {
		t.Errorf("expected min/max 10/30, got %f/%f", r.Min, r.Max)
	}
	if math.Abs(r.Avg-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", r.Avg)
	}
	if r.FirstTs != now || r.LastTs != now+2000 {
		t.Errorf("unexpected timestamps %d..%d", r.FirstTs, r.LastTs)
	}
	if !r.HasPercentiles() {
		t.Error("expected percentiles")
	}
}

func TestStream_Percentiles(t *testing.T) {
	const accuracy = 0.01
	st := NewStream("latency", accuracy)

	for i := 1; i <= 100; i++ {
		observe(st, float64(i), int64(i))
	}

	r := st.Summary()
	if !r.HasPercentiles() {
		t.Fatal("should have percentiles")
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", *r.P50, 50},
		{"p90", *r.P90, 90},
		{"p95", *r.P95, 95},
		{"p99", *r.P99, 99},
	}
	for _, c := range checks {
		// one rank of slack on top of the sketch error
		if math.Abs(c.got-c.want) > c.want*accuracy+1 {
			t.Errorf("%s = %f, want ~%f", c.name, c.got, c.want)
		}
	}
}

func TestStream_NegativeAndZero(t *testing.T) {
	st := NewStream("delta", 0.01)
	observe(st, -5, 1)
	observe(st, 0, 2)
	observe(st, 5, 3)

	r := st.Summary()
	if r.Min != -5 || r.Max != 5 || r.Sum != 0 {
		t.Errorf("unexpected summary %+v", r)
	}
	if !r.HasPercentiles() || !within(*r.P50, 0, 0.01) {
		t.Errorf("expected median ~0, got %v", r.P50)
	}
}

func TestStream_ZeroTimestamp(t *testing.T) {
	st := NewStream("cpu", 0.01)
	observe(st, 1, 0)
	observe(st, 2, 500)

	if r := st.Summary(); r.FirstTs != 0 || r.LastTs != 500 {
		t.Errorf("unexpected timestamps %d..%d", r.FirstTs, r.LastTs)
	}
}

func TestStream_BadAccuracy(t *testing.T) {
	st := NewStream("cpu", 2)
	observe(st, 7, 1)

	r := st.Summary()
	if r.Count != 1 || r.Min != 7 {
		t.Errorf("moments should survive without a sketch: %+v", r)
	}
	if r.HasPercentiles() {
		t.Error("no percentiles expected without a sketch")
	}
}

func TestStream_Concurrent(t *testing.T) {
	st := NewStream("cpu", 0.01)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				observe(st, float64(i), int64(i+1))
			}
		}()
	}
	wg.Wait()

	if st.Len() != 8000 {
		t.Errorf("expected 8000, got %d", st.Len())
	}
}

func TestManager_Basic(t *testing.T) {
	m := NewManager(0.01)

	m.Process(types.Sample{MetricName: "cpu", Value: 10, Timestamp: 1})
	m.Process(types.Sample{MetricName: "cpu", Value: 30, Timestamp: 2})
	m.Process(types.Sample{MetricName: "mem", Value: 50, Timestamp: 3})

	if m.ActiveCount() != 2 {
		t.Errorf("expected 2 aggregates, got %d", m.ActiveCount())
	}

	cpu, ok := m.Summary("cpu")
	if !ok {
		t.Fatal("expected cpu summary")
	}
	if cpu.Count != 2 || cpu.Avg != 20 {
		t.Errorf("unexpected cpu summary %+v", cpu)
	}

	if _, ok := m.Summary("disk"); ok {
		t.Error("unexpected summary for unseen metric")
	}

	all := m.Summaries()
	if len(all) != 2 || all[0].MetricName != "cpu" || all[1].MetricName != "mem" {
		t.Errorf("unexpected summaries %+v", all)
	}

	stats := m.Stats()
	if stats.SamplesProcessed != 3 || stats.ActiveAggregates != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestManager_Reset(t *testing.T) {
	m := NewManager(0.01)
	m.Process(types.Sample{MetricName: "cpu", Value: 1})
	m.Process(types.Sample{MetricName: "mem", Value: 1})

	m.Reset("cpu")
	if _, ok := m.Summary("cpu"); ok {
		t.Error("cpu should be reset")
	}
	if _, ok := m.Summary("mem"); !ok {
		t.Error("mem should survive a targeted reset")
	}

	m.Reset("")
	if m.ActiveCount() != 0 {
		t.Errorf("expected no aggregates, got %d", m.ActiveCount())
	}
}

func TestManager_Concurrent(t *testing.T) {
	m := NewManager(0.01)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Process(types.Sample{MetricName: "cpu", Value: float64(i)})
				m.Summaries()
			}
		}()
	}
	wg.Wait()

	s, _ := m.Summary("cpu")
	if s.Count != 4000 {
		t.Errorf("expected 4000 samples, got %d", s.Count)
	}
}

func BenchmarkStream_Observe(b *testing.B) {
	st := NewStream("cpu", 0.01)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		observe(st, float64(i%1000), int64(i))
	}
}

func BenchmarkManager_Process(b *testing.B) {
	m := NewManager(0.01)
	s := types.Sample{MetricName: "cpu", Value: 42}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Process(s)
	}
}
