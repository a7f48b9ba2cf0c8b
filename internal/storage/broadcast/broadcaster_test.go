package broadcast

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/logging"
	tallytest "github.com/xtxerr/tally/internal/testing"
	"github.com/xtxerr/tally/internal/storage/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestSubscribe_Disabled(t *testing.T) {
	b := New(false, logging.Discard())

	_, err := b.Subscribe(func(types.Sample) {})
	if !errors.Is(err, errors.ErrRealTimeDisabled) {
		t.Errorf("expected ErrRealTimeDisabled, got %v", err)
	}
	if !errors.IsConfiguration(err) {
		t.Error("expected configuration category")
	}

	// Publishing while disabled is a no-op
	b.Publish(types.Sample{MetricName: "m"})
	if b.Stats().Published != 0 {
		t.Error("disabled broadcaster should not publish")
	}
}

func TestSubscribe_Delivery(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	var sink tallytest.SampleSink
	sub, err := b.Subscribe(sink.Callback())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.ID() == "" {
		t.Error("expected subscription id")
	}

	b.Publish(types.Sample{MetricName: "cpu", Value: 42})

	if err := tallytest.Eventually(waitFor, tick, func() bool { return sink.Len() == 1 }); err != nil {
		t.Fatal(err)
	}

	got := sink.Samples()[0]
	if got.MetricName != "cpu" || got.Value != 42 {
		t.Errorf("unexpected sample %+v", got)
	}
}

func TestSubscribe_Order(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	var sink tallytest.SampleSink
	if _, err := b.Subscribe(sink.Callback()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 1000
	for i := 0; i < n; i++ {
		b.Publish(types.Sample{MetricName: "m", Value: float64(i)})
	}

	if err := tallytest.Eventually(waitFor, tick, func() bool { return sink.Len() == n }); err != nil {
		t.Fatal(err)
	}

	for i, s := range sink.Samples() {
		if s.Value != float64(i) {
			t.Fatalf("delivery %d out of order: got value %v", i, s.Value)
		}
	}
}

func TestPublish_DoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := New(true, logging.Discard())

	release := make(chan struct{})
	var slowCount atomic.Int32
	b.Subscribe(func(types.Sample) {
		<-release
		slowCount.Add(1)
	})

	var fast tallytest.SampleSink
	b.Subscribe(fast.Callback())

	err := tallytest.WithTimeout(time.Second, func() error {
		for i := 0; i < 100; i++ {
			b.Publish(types.Sample{MetricName: "m"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("publish blocked: %v", err)
	}

	// The fast subscriber is not held back by the slow one
	if err := tallytest.Eventually(waitFor, tick, func() bool { return fast.Len() == 100 }); err != nil {
		t.Fatal(err)
	}

	close(release)
	b.Close()

	if slowCount.Load() != 100 {
		t.Errorf("close should drain queued deliveries, got %d", slowCount.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	var sink tallytest.SampleSink
	sub, _ := b.Subscribe(sink.Callback())

	b.Publish(types.Sample{MetricName: "m", Value: 1})
	if err := tallytest.Eventually(waitFor, tick, func() bool { return sink.Len() == 1 }); err != nil {
		t.Fatal(err)
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	b.Publish(types.Sample{MetricName: "m", Value: 2})
	time.Sleep(50 * time.Millisecond)

	if sink.Len() != 1 {
		t.Errorf("expected no further deliveries, got %d", sink.Len())
	}
}

func TestUnsubscribe_DeliversAlreadyPublished(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	release := make(chan struct{})
	var got atomic.Int32
	sub, _ := b.Subscribe(func(types.Sample) {
		<-release
		got.Add(1)
	})

	for i := 0; i < 3; i++ {
		b.Publish(types.Sample{MetricName: "m", Value: float64(i)})
	}
	sub.Unsubscribe()
	b.Publish(types.Sample{MetricName: "m", Value: 99})
	close(release)

	if err := tallytest.Eventually(waitFor, tick, func() bool { return got.Load() == 3 }); err != nil {
		t.Fatalf("%v (delivered %d)", err, got.Load())
	}
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 3 {
		t.Errorf("sample published after unsubscribe was delivered: %d", got.Load())
	}
}

func TestUnsubscribe_OnlyRemovesOwnEntry(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	var a, c tallytest.SampleSink
	subA, _ := b.Subscribe(a.Callback())
	subC, _ := b.Subscribe(c.Callback())

	subA.Unsubscribe()
	subA.Unsubscribe()

	b.Publish(types.Sample{MetricName: "m"})
	if err := tallytest.Eventually(waitFor, tick, func() bool { return c.Len() == 1 }); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 0 {
		t.Error("unsubscribed callback still invoked")
	}

	subC.Unsubscribe()
}

func TestSubscriberPanicIsRecovered(t *testing.T) {
	b := New(true, logging.Discard())
	defer b.Close()

	b.Subscribe(func(types.Sample) { panic("boom") })

	var sink tallytest.SampleSink
	b.Subscribe(sink.Callback())

	b.Publish(types.Sample{MetricName: "m"})
	b.Publish(types.Sample{MetricName: "m"})

	if err := tallytest.Eventually(waitFor, tick, func() bool {
		return sink.Len() == 2 && b.Stats().Panics == 2
	}); err != nil {
		t.Fatalf("%v (panics=%d, delivered=%d)", err, b.Stats().Panics, sink.Len())
	}
}

func TestClose(t *testing.T) {
	b := New(true, logging.Discard())

	var sink tallytest.SampleSink
	sub, _ := b.Subscribe(sink.Callback())

	b.Publish(types.Sample{MetricName: "m"})
	b.Close()
	b.Close() // idempotent

	if sink.Len() != 1 {
		t.Errorf("expected queued sample delivered before close returned, got %d", sink.Len())
	}

	if _, err := b.Subscribe(func(types.Sample) {}); !errors.Is(err, errors.ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped after close, got %v", err)
	}

	// Publishing and unsubscribing after close are harmless
	b.Publish(types.Sample{MetricName: "m"})
	sub.Unsubscribe()
}
