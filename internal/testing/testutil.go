// Package testing provides test helpers for the tally engine.
//
// t.Fatal only stops the goroutine it is called from, so concurrent tests
// return errors to a Group and fail from the test goroutine. Timer-driven
// behaviour is observed with Eventually rather than fixed sleeps.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/types"
)

// Group runs test goroutines and fails the test with the first error.
//
//	g := tallytest.NewGroup(t)
//	g.Go(func() error { return svc.RecordMetric("m", 1, nil) })
//	g.Wait()
type Group struct {
	t *testing.T
	g errgroup.Group
}

// NewGroup returns a Group reporting to t.
func NewGroup(t *testing.T) *Group {
	return &Group{t: t}
}

// Go starts fn.
func (g *Group) Go(fn func() error) {
	g.g.Go(fn)
}

// Wait blocks until every goroutine returned and fails t on error.
func (g *Group) Wait() {
	g.t.Helper()
	if err := g.g.Wait(); err != nil {
		g.t.Fatalf("goroutine failed: %v", err)
	}
}

// Eventually polls condition every interval until it holds or timeout
// passes. The condition is checked once more at the deadline.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	deadline := time.After(timeout)

	for {
		if condition() {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline:
			if condition() {
				return nil
			}
			return fmt.Errorf("condition not met within %v", timeout)
		}
	}
}

// WithTimeout returns fn's error, or a timeout error if fn has not returned
// after d. fn keeps running in the background in that case.
func WithTimeout(d time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("operation timed out after %v", d)
	}
}

// TempConfig returns a valid config rooted in a per-test directory with the
// host poller switched off so tests only see the samples they record.
func TempConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.SystemPoll.Enabled = false
	return cfg
}

// SampleSink is a subscriber callback target that records what it sees.
type SampleSink struct {
	mu      sync.Mutex
	samples []types.Sample
}

// Callback returns the function to pass to Subscribe.
func (s *SampleSink) Callback() func(types.Sample) {
	return func(sample types.Sample) {
		s.mu.Lock()
		s.samples = append(s.samples, sample)
		s.mu.Unlock()
	}
}

// Len returns the number of samples received.
func (s *SampleSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Samples returns a copy of everything received, in delivery order.
func (s *SampleSink) Samples() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}
