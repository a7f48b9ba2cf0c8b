// Package sysmetrics records host CPU and memory gauges on a timer.
//
// Samples go through the same Record function user code calls, so they are
// validated, buffered, broadcast, flushed and reaped like any other metric.
// A failed read is logged and skipped; the next tick tries again.
package sysmetrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/tally/config"
	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/registry"
)

// RecordFunc is the ingest entry point samples are fed into.
type RecordFunc func(name string, value any, dims map[string]string) error

// DefineBuiltins registers the built-in gauges.
func DefineBuiltins(reg *registry.Registry) error {
	opts := &registry.MetricOptions{Unit: "percent"}

	if err := reg.DefineMetric(defaults.SystemCPUMetric, "gauge", "Host CPU usage", opts); err != nil {
		return err
	}
	return reg.DefineMetric(defaults.SystemMemoryMetric, "gauge", "Host memory usage", opts)
}

// Poller periodically records host utilisation.
type Poller struct {
	source   Source
	record   RecordFunc
	interval time.Duration
	logger   *slog.Logger

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	polls    atomic.Int64
	recorded atomic.Int64
	failures atomic.Int64
}

// Stats holds poller statistics.
type Stats struct {
	Running  bool
	Polls    int64
	Recorded int64
	Failures int64
}

// New creates a poller. interval <= 0 uses the default of five seconds.
func New(source Source, record RecordFunc, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaults.DefaultSystemPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		source:   source,
		record:   record,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the poll timer.
func (p *Poller) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.ErrServiceRunning
	}

	p.wg.Add(1)
	go p.pollWorker()

	return nil
}

// Stop stops the poll timer and waits for an in-progress poll. Safe to
// call twice.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.running.Store(false)
}

func (p *Poller) pollWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// PollOnce reads both gauges and records them. Each reading is independent:
// a failed CPU read does not prevent the memory sample. The returned error
// joins whatever failed; the poller itself only logs it.
func (p *Poller) PollOnce() error {
	p.polls.Add(1)

	var errs []error
	for _, g := range []struct {
		metric string
		read   func() (float64, error)
	}{
		{defaults.SystemCPUMetric, p.source.CPUUsage},
		{defaults.SystemMemoryMetric, p.source.MemoryUsage},
	} {
		if err := p.pollGauge(g.metric, g.read); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *Poller) pollGauge(metric string, read func() (float64, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("host metric read panicked")
			p.failures.Add(1)
			p.logger.Error("host metric read panicked", "metric", metric, "panic", r)
		}
	}()

	v, err := read()
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("host metric read failed, skipping cycle", "metric", metric, "error", err)
		return errors.Wrapf(err, "read %s", metric)
	}

	if err := p.record(metric, v, nil); err != nil {
		p.failures.Add(1)
		p.logger.Warn("host metric not recorded", "metric", metric, "error", err)
		return errors.Wrapf(err, "record %s", metric)
	}

	p.recorded.Add(1)
	return nil
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Running:  p.running.Load(),
		Polls:    p.polls.Load(),
		Recorded: p.recorded.Load(),
		Failures: p.failures.Load(),
	}
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}
