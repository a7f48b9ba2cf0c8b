package testing

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/tally/internal/storage/types"
)

func TestGroup(t *testing.T) {
	g := NewGroup(t)

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	g.Wait()

	if n.Load() != 5 {
		t.Errorf("expected 5 runs, got %d", n.Load())
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		ready.Store(true)
	}()

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Fatal(err)
	}

	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected timeout error")
	}
}

func TestWithTimeout(t *testing.T) {
	want := errors.New("boom")
	if err := WithTimeout(time.Second, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}

	err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout")
	}
}

func TestSampleSink(t *testing.T) {
	var sink SampleSink
	cb := sink.Callback()

	cb(types.Sample{MetricName: "a"})
	cb(types.Sample{MetricName: "b"})

	got := sink.Samples()
	if sink.Len() != 2 || got[0].MetricName != "a" || got[1].MetricName != "b" {
		t.Errorf("unexpected samples %+v", got)
	}
}

func TestTempConfig(t *testing.T) {
	cfg := TempConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Errorf("temp config should validate: %v", err)
	}
	if cfg.SystemPoll.Enabled {
		t.Error("temp config should disable the host poller")
	}
}
