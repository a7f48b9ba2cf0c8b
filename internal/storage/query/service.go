// Package query answers filtered reads over persisted shards.
//
// Queries never look at the live buffer. Shards are listed in name order,
// decoded concurrently up to Query.Parallelism at a time, and their matches
// concatenated in that same order, so results are chronological by flush.
package query

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/parquet"
	"github.com/xtxerr/tally/internal/storage/shard"
	"github.com/xtxerr/tally/internal/storage/types"
)

// Service provides query capabilities over stored data.
type Service struct {
	config *config.Config
	logger *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	RowsReturned    atomic.Int64
	ShardsScanned   atomic.Int64
	Errors          atomic.Int64
}

// Query selects samples of one metric.
type Query struct {
	// MetricName must match exactly. Required.
	MetricName string

	// Dimensions must all be present on a sample with equal values.
	Dimensions map[string]string

	// StartTime and EndTime bound the sample timestamp inclusively.
	// A zero value leaves that side open.
	StartTime time.Time
	EndTime   time.Time

	// Limit caps the result size. 0 uses the configured maximum.
	Limit int
}

// Matches reports whether s satisfies every filter of q.
func (q *Query) Matches(s *types.Sample) bool {
	if s.MetricName != q.MetricName {
		return false
	}
	if !q.StartTime.IsZero() && s.Timestamp < q.StartTime.UnixMilli() {
		return false
	}
	if !q.EndTime.IsZero() && s.Timestamp > q.EndTime.UnixMilli() {
		return false
	}
	return s.HasDimensions(q.Dimensions)
}

// New creates a new query service.
func New(cfg *config.Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: cfg,
		logger: logger,
	}
}

// Query returns the samples matching q, in shard order.
//
// A shard removed by retention while the query runs is skipped. Any other
// read or decode failure fails the whole query; partial results are never
// returned.
func (s *Service) Query(ctx context.Context, q Query) ([]types.Sample, error) {
	if q.MetricName == "" {
		return nil, errors.NewValidation(errors.ErrMetricNameOrTypeRequired, "query needs a metric name")
	}
	if !q.StartTime.IsZero() && !q.EndTime.IsZero() && q.EndTime.Before(q.StartTime) {
		return nil, nil
	}

	infos, err := shard.List(s.config.StorageDir)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.NewStorage("list shards", err)
	}
	if !q.StartTime.IsZero() {
		infos = shard.FilterRange(infos, q.StartTime.UnixMilli())
	}

	parts := make([][]types.Sample, len(infos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism())

	for i, info := range infos {
		i, info := i, info
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			sh, err := shard.Read(info.Path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return errors.NewStorage("read shard", err)
			}

			for _, sample := range sh.Metrics[q.MetricName] {
				if q.Matches(&sample) {
					parts[i] = append(parts[i], sample)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	s.stats.ShardsScanned.Add(int64(len(infos)))

	limit := s.limit(q.Limit)

	var results []types.Sample
	for _, part := range parts {
		results = append(results, part...)
		if limit > 0 && len(results) >= limit {
			results = results[:limit]
			break
		}
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.RowsReturned.Add(int64(len(results)))

	return results, nil
}

// Export writes the samples matching q to a Parquet file at path and
// returns the number of rows written.
func (s *Service) Export(ctx context.Context, q Query, path string) (int64, error) {
	samples, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	opts := parquet.DefaultOptions()
	if s.config.Export.Compression != "" {
		opts.Compression = s.config.Export.Compression
	}

	w, err := parquet.NewSampleWriter(path, opts)
	if err != nil {
		return 0, errors.NewStorage("create export", err)
	}

	if err := w.Write(samples); err != nil {
		w.Abort()
		return 0, errors.NewStorage("write export", err)
	}
	if err := w.Commit(); err != nil {
		return 0, errors.NewStorage("commit export", err)
	}

	s.logger.Info("export written",
		"path", path,
		"metric", q.MetricName,
		"rows", w.RowCount(),
		"compression", opts.Compression)

	return w.RowCount(), nil
}

func (s *Service) parallelism() int {
	if s.config.Query.Parallelism > 0 {
		return s.config.Query.Parallelism
	}
	return 1
}

// limit combines the per-query limit with the configured maximum.
func (s *Service) limit(requested int) int {
	max := s.config.Query.MaxRows
	switch {
	case requested <= 0:
		return max
	case max > 0 && requested > max:
		return max
	default:
		return requested
	}
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		RowsReturned:    s.stats.RowsReturned.Load(),
		ShardsScanned:   s.stats.ShardsScanned.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}

// ServiceStats is a snapshot of query statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	ShardsScanned   int64
	Errors          int64
}
