package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/logging"
	"github.com/xtxerr/tally/internal/storage/aggregate"
	"github.com/xtxerr/tally/internal/storage/broadcast"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/ingestion"
	"github.com/xtxerr/tally/internal/storage/query"
	"github.com/xtxerr/tally/internal/storage/registry"
	"github.com/xtxerr/tally/internal/storage/retention"
	"github.com/xtxerr/tally/internal/storage/stats"
	"github.com/xtxerr/tally/internal/storage/sysmetrics"
	"github.com/xtxerr/tally/internal/storage/types"
)

// Query selects persisted samples. See query.Query.
type Query = query.Query

// Service is the metrics engine. It owns the registry, the ingest buffer,
// the broadcaster and the three background timers (flush, system poll,
// retention).
type Service struct {
	mu sync.RWMutex

	config *config.Config
	logger *slog.Logger

	// Components
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	ingestion   *ingestion.Service
	query       *query.Service
	retention   *retention.Manager
	aggregates  *aggregate.Manager // nil when real-time analysis is off
	poller      *sysmetrics.Poller // nil when system polling is off

	// State
	running atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
}

// New creates a new metrics engine. The built-in system gauges are always
// defined; they are only polled when cfg.SystemPoll.Enabled is set.
func New(cfg *config.Config) (*Service, error) {
	return newService(cfg, nil)
}

func newService(cfg *config.Config, source sysmetrics.Source) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	logger := logging.Component("storage")

	reg := registry.New()
	if err := sysmetrics.DefineBuiltins(reg); err != nil {
		return nil, errors.Wrap(err, "define built-in metrics")
	}

	bc := broadcast.New(cfg.EnableRealTimeAnalysis, logging.Component("broadcast"))

	ing, err := ingestion.New(cfg, reg, bc, logging.Component("ingestion"))
	if err != nil {
		bc.Close()
		return nil, errors.Wrap(err, "create ingestion")
	}

	s := &Service{
		config:      cfg,
		logger:      logger,
		registry:    reg,
		broadcaster: bc,
		ingestion:   ing,
		query:       query.New(cfg, logging.Component("query")),
		retention:   retention.New(cfg, logging.Component("retention")),
	}

	// Live summaries ride on the broadcaster like any other subscriber.
	if cfg.EnableRealTimeAnalysis {
		s.aggregates = aggregate.NewManager(cfg.LiveSummary.Accuracy)
		if _, err := bc.Subscribe(s.aggregates.Process); err != nil {
			bc.Close()
			return nil, errors.Wrap(err, "subscribe live summaries")
		}
	}

	if cfg.SystemPoll.Enabled {
		if source == nil {
			src, err := sysmetrics.NewProcSource("")
			if err != nil {
				logger.Warn("host metrics unavailable, system poller disabled", "error", err)
			} else {
				source = src
			}
		}
		if source != nil {
			s.poller = sysmetrics.New(source, s.RecordMetric, cfg.SystemPoll.Interval, logging.Component("sysmetrics"))
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Start launches the flush, system poll and retention timers.
func (s *Service) Start() error {
	if s.stopped.Load() {
		return errors.ErrServiceStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrServiceRunning
	}

	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()

	if err := s.ingestion.Start(); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "start ingestion")
	}

	if s.poller != nil {
		if err := s.poller.Start(); err != nil {
			s.ingestion.Stop()
			s.running.Store(false)
			return errors.Wrap(err, "start system poller")
		}
	}

	s.wg.Add(1)
	go s.retentionWorker()

	s.logger.Info("metrics engine started",
		"storage_dir", s.config.StorageDir,
		"flush_interval", s.config.FlushInterval,
		"real_time", s.config.EnableRealTimeAnalysis,
		"retention_days", s.config.RetentionPeriod,
		"system_poll", s.poller != nil)

	return nil
}

// Stop stops all timers and closes the broadcaster after queued deliveries
// have run. It does not flush. Safe to call twice.
func (s *Service) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	// Stop components in reverse order
	if s.poller != nil {
		s.poller.Stop()
	}

	var errs []error
	if err := s.ingestion.Stop(); err != nil {
		errs = append(errs, errors.Wrap(err, "stop ingestion"))
	}

	s.broadcaster.Close()

	if n := s.ingestion.Buffer().Len(); n > 0 {
		s.logger.Warn("metrics engine stopped with unflushed samples", "buffered", n)
	} else {
		s.logger.Info("metrics engine stopped")
	}

	return errors.Join(errs...)
}

// DefineMetric declares or overwrites a metric schema.
func (s *Service) DefineMetric(name, kind, description string, opts *registry.MetricOptions) error {
	return s.registry.DefineMetric(name, kind, description, opts)
}

// DefineDimension declares or overwrites a dimension schema. An empty
// allowedValues permits any value.
func (s *Service) DefineDimension(name, description string, allowedValues []string) error {
	return s.registry.DefineDimension(name, description, allowedValues)
}

// RecordMetric validates and buffers one sample. It does no I/O.
func (s *Service) RecordMetric(name string, value any, dims map[string]string) error {
	return s.ingestion.Record(name, value, dims)
}

// Flush writes all buffered samples into a new shard. It returns false when
// the buffer was empty.
func (s *Service) Flush() (bool, error) {
	if s.stopped.Load() {
		return false, errors.ErrServiceStopped
	}
	return s.ingestion.Flush()
}

// QueryMetrics returns persisted samples matching q in shard order.
// Buffered samples become visible after the next flush.
func (s *Service) QueryMetrics(ctx context.Context, q Query) ([]types.Sample, error) {
	if s.stopped.Load() {
		return nil, errors.ErrServiceStopped
	}
	return s.query.Query(ctx, q)
}

// Export writes the samples matching q to a Parquet file and returns the
// number of rows written.
func (s *Service) Export(ctx context.Context, q Query, path string) (int64, error) {
	if s.stopped.Load() {
		return 0, errors.ErrServiceStopped
	}
	return s.query.Export(ctx, q, path)
}

// SubscribeToMetrics registers fn for every sample recorded from now on.
// It fails with ErrRealTimeDisabled when real-time analysis is off.
func (s *Service) SubscribeToMetrics(fn broadcast.Callback) (*broadcast.Subscription, error) {
	if !s.broadcaster.Enabled() {
		return nil, errors.ErrRealTimeDisabled
	}
	if s.stopped.Load() {
		return nil, errors.ErrServiceStopped
	}
	return s.broadcaster.Subscribe(fn)
}

// CalculateStatistics summarises a set of entries. Pure.
func (s *Service) CalculateStatistics(entries []any) stats.Statistics {
	return stats.Calculate(entries)
}

// MetricStatistics runs q and summarises the result.
func (s *Service) MetricStatistics(ctx context.Context, q Query) (stats.Statistics, error) {
	samples, err := s.QueryMetrics(ctx, q)
	if err != nil {
		return stats.Statistics{}, err
	}
	return stats.OfSamples(samples), nil
}

// LiveSummary returns the running summary of a metric since the engine was
// created. Percentiles are approximate.
func (s *Service) LiveSummary(name string) (types.Summary, bool, error) {
	if s.aggregates == nil {
		return types.Summary{}, false, errors.ErrRealTimeDisabled
	}
	sum, ok := s.aggregates.Summary(name)
	return sum, ok, nil
}

// LiveSummaries returns running summaries of every metric seen, sorted by
// name.
func (s *Service) LiveSummaries() ([]types.Summary, error) {
	if s.aggregates == nil {
		return nil, errors.ErrRealTimeDisabled
	}
	return s.aggregates.Summaries(), nil
}

// ResetLiveSummary restarts the running summary of one metric, or of every
// metric when name is empty. Persisted data is not touched.
func (s *Service) ResetLiveSummary(name string) error {
	if s.aggregates == nil {
		return errors.ErrRealTimeDisabled
	}
	s.aggregates.Reset(name)
	s.logger.Debug("live summary reset", "metric", name)
	return nil
}

// CleanupOldMetricsFiles deletes shards older than the retention period.
// Per-file failures are reported in the result and do not stop the scan.
func (s *Service) CleanupOldMetricsFiles() (retention.CleanupResult, error) {
	if s.stopped.Load() {
		return retention.CleanupResult{}, errors.ErrServiceStopped
	}
	return s.retention.RunCleanup(), nil
}

// DryRunRetention reports what CleanupOldMetricsFiles would delete.
func (s *Service) DryRunRetention() retention.CleanupResult {
	return s.retention.DryRun()
}

// DiskUsage returns the size of the shard directory.
func (s *Service) DiskUsage() (retention.DiskUsage, error) {
	return s.retention.GetDiskUsage()
}

// retentionWorker periodically runs retention cleanup.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RetentionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			result := s.retention.RunCleanup()
			if err := result.Err(); err != nil {
				// Per-file failures are retried on the next tick.
				s.logger.Warn("retention cleanup incomplete", "error", err)
			}
		}
	}
}

// Metric returns a metric definition.
func (s *Service) Metric(name string) (types.MetricDefinition, bool) {
	return s.registry.Metric(name)
}

// Dimension returns a dimension definition.
func (s *Service) Dimension(name string) (types.DimensionDefinition, bool) {
	return s.registry.Dimension(name)
}

// Metrics returns all metric definitions sorted by name.
func (s *Service) Metrics() []types.MetricDefinition {
	return s.registry.Metrics()
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.startTime.IsZero() && s.running.Load() {
		uptime = time.Since(s.startTime)
	}

	st := ServiceStats{
		Running:    s.running.Load(),
		Uptime:     uptime,
		Metrics:    len(s.registry.Metrics()),
		Dimensions: len(s.registry.Dimensions()),
		Ingestion:  s.ingestion.Stats(),
		Query:      s.query.Stats(),
		Retention:  s.retention.Stats(),
		Broadcast:  s.broadcaster.Stats(),
	}
	if s.aggregates != nil {
		st.Aggregates = s.aggregates.Stats()
	}
	if s.poller != nil {
		st.SystemPoll = s.poller.Stats()
	}

	return st
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running    bool
	Uptime     time.Duration
	Metrics    int
	Dimensions int
	Ingestion  ingestion.ServiceStats
	Query      query.ServiceStats
	Retention  retention.ManagerStats
	Broadcast  broadcast.BroadcasterStats
	Aggregates aggregate.ManagerStats
	SystemPoll sysmetrics.Stats
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the timers are running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// ForceFlush triggers an asynchronous flush on the flush timer's goroutine.
func (s *Service) ForceFlush() {
	s.ingestion.ForceFlush()
}
