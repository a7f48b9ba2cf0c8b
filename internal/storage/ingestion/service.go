package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/broadcast"
	"github.com/xtxerr/tally/internal/storage/buffer"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/registry"
	"github.com/xtxerr/tally/internal/storage/shard"
	"github.com/xtxerr/tally/internal/storage/types"
)

// Service orchestrates the sample ingestion pipeline.
// It manages the flow: Record → Registry → Buffer (+ Broadcaster) → Flush → Shard
type Service struct {
	config *config.Config
	logger *slog.Logger

	// Components
	registry    *registry.Registry
	buffer      *buffer.Buffer
	broadcaster *broadcast.Broadcaster

	// Serializes append + publish
	ingestMu sync.Mutex

	// Flush coordination
	flight      singleflight.Group
	flushMu     sync.Mutex // guards lastShardTs
	lastShardTs int64

	// State
	running atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats

	// Channels
	flushCh chan struct{}

	now        func() time.Time
	writeShard func(dir string, sh *types.Shard) (string, error)
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesRecorded  atomic.Int64
	SamplesRejected  atomic.Int64
	SamplesFlushed   atomic.Int64
	FlushesCompleted atomic.Int64
	FlushesFailed    atomic.Int64
	LastFlushMs      atomic.Int64
}

// New creates a new ingestion service.
func New(cfg *config.Config, reg *registry.Registry, bc *broadcast.Broadcaster, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "nil config")
	}
	if reg == nil {
		reg = registry.New()
	}
	if bc == nil {
		bc = broadcast.New(false, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Continue after the newest shard already on disk so names never collide
	// across restarts.
	var last int64
	infos, err := shard.List(cfg.StorageDir)
	if err != nil {
		return nil, errors.NewStorage("list shards", err)
	}
	if len(infos) > 0 {
		last = infos[len(infos)-1].Timestamp
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:      cfg,
		logger:      logger,
		registry:    reg,
		buffer:      buffer.New(),
		broadcaster: bc,
		lastShardTs: last,
		ctx:         ctx,
		cancel:      cancel,
		flushCh:     make(chan struct{}, 1),
		now:         time.Now,
		writeShard:  shard.Write,
	}, nil
}

// Start starts the background flush timer.
func (s *Service) Start() error {
	if s.stopped.Load() {
		return errors.ErrServiceStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrServiceRunning
	}

	s.wg.Add(1)
	go s.flushWorker()

	return nil
}

// Stop stops the flush timer. It does not flush; buffered samples stay in
// memory and are lost unless the caller flushed first. Safe to call twice.
func (s *Service) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	return nil
}

// Record validates a sample and appends it to the buffer.
//
// Validation order, first failure wins: metric defined, value numeric,
// dimension keys defined, dimension values allowed. A rejected sample never
// reaches the buffer or subscribers.
func (s *Service) Record(name string, value any, dims map[string]string) error {
	if s.stopped.Load() {
		return errors.ErrServiceStopped
	}

	v, err := s.registry.Validate(name, value, dims)
	if err != nil {
		s.stats.SamplesRejected.Add(1)
		return err
	}

	// Buffer and subscriber queues see samples in the same order.
	s.ingestMu.Lock()
	sample := types.NewSample(name, v, dims, s.now())
	s.buffer.Append(sample)
	s.broadcaster.Publish(sample)
	s.ingestMu.Unlock()

	s.stats.SamplesRecorded.Add(1)

	return nil
}

// Flush writes everything buffered so far into one new shard.
//
// It returns false with a nil error when there was nothing to write.
// Concurrent callers share the in-flight flush. A caller that joined a
// flush already under way flushes once more if samples remain, so
// everything recorded before the call is persisted when it returns. On a
// write failure the drained samples are put back in front of anything
// recorded meanwhile and a storage error is returned.
func (s *Service) Flush() (bool, error) {
	wrote, shared, err := s.flushShared()
	if err != nil || !shared || s.buffer.IsEmpty() {
		return wrote, err
	}

	again, _, err := s.flushShared()
	return wrote || again, err
}

func (s *Service) flushShared() (wrote, shared bool, err error) {
	v, err, shared := s.flight.Do("flush", func() (any, error) {
		return s.flush()
	})
	wrote, _ = v.(bool)
	return wrote, shared, err
}

func (s *Service) flush() (bool, error) {
	drained := s.buffer.Drain()
	if drained == nil {
		return false, nil
	}

	sh := &types.Shard{
		Timestamp: s.nextShardTimestamp(),
		Metrics:   drained,
	}
	count := sh.SampleCount()

	path, err := s.writeShard(s.config.StorageDir, sh)
	if err != nil {
		s.buffer.Restore(drained)
		s.stats.FlushesFailed.Add(1)
		return false, errors.NewStorage("flush", err)
	}

	s.stats.FlushesCompleted.Add(1)
	s.stats.SamplesFlushed.Add(int64(count))
	s.stats.LastFlushMs.Store(sh.Timestamp)

	s.logger.Debug("shard written",
		"path", path,
		"metrics", len(drained),
		"samples", count)

	return true, nil
}

// nextShardTimestamp returns a strictly increasing Unix ms timestamp.
func (s *Service) nextShardTimestamp() int64 {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	ts := s.now().UnixMilli()
	if ts <= s.lastShardTs {
		ts = s.lastShardTs + 1
	}
	s.lastShardTs = ts
	return ts
}

// flushWorker periodically flushes the buffer.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.backgroundFlush()
		case <-s.flushCh:
			s.backgroundFlush()
		}
	}
}

func (s *Service) backgroundFlush() {
	if _, err := s.Flush(); err != nil {
		// Samples were restored; the next tick retries.
		s.logger.Error("background flush failed",
			"error", err,
			"buffered", s.buffer.Len())
	}
}

// ForceFlush triggers an asynchronous flush on the worker.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bufferStats := s.buffer.Stats()

	return ServiceStats{
		Running:          s.running.Load(),
		SamplesRecorded:  s.stats.SamplesRecorded.Load(),
		SamplesRejected:  s.stats.SamplesRejected.Load(),
		SamplesFlushed:   s.stats.SamplesFlushed.Load(),
		FlushesCompleted: s.stats.FlushesCompleted.Load(),
		FlushesFailed:    s.stats.FlushesFailed.Load(),
		LastFlushMs:      s.stats.LastFlushMs.Load(),
		BufferCount:      bufferStats.Count,
		BufferMetrics:    bufferStats.Metrics,
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running          bool
	SamplesRecorded  int64
	SamplesRejected  int64
	SamplesFlushed   int64
	FlushesCompleted int64
	FlushesFailed    int64
	LastFlushMs      int64
	BufferCount      int
	BufferMetrics    int
}

// Buffer returns the ingest buffer.
func (s *Service) Buffer() *buffer.Buffer {
	return s.buffer
}

// IsRunning returns whether the flush timer is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
