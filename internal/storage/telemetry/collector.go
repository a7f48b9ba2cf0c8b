// Package telemetry exposes the engine's own counters to Prometheus.
//
// The collector reads a stats snapshot on every scrape, so nothing is
// double-counted and no background goroutine is needed.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xtxerr/tally/internal/storage"
)

const namespace = "tally"

// StatsSource is what the collector scrapes. *storage.Service implements it.
type StatsSource interface {
	Stats() storage.ServiceStats
}

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*storage.ServiceStats) float64
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source  StatsSource
	metrics []metric
}

// NewCollector creates a collector for source.
func NewCollector(source StatsSource) *Collector {
	counter := func(subsystem, name, help string, v func(*storage.ServiceStats) float64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
			kind:  prometheus.CounterValue,
			value: v,
		}
	}
	gauge := func(subsystem, name, help string, v func(*storage.ServiceStats) float64) metric {
		m := counter(subsystem, name, help, v)
		m.kind = prometheus.GaugeValue
		return m
	}
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}

	return &Collector{
		source: source,
		metrics: []metric{
			gauge("", "up", "Whether the engine timers are running.",
				func(s *storage.ServiceStats) float64 { return b2f(s.Running) }),
			gauge("", "uptime_seconds", "Time since the engine was started.",
				func(s *storage.ServiceStats) float64 { return s.Uptime.Seconds() }),
			gauge("registry", "metrics", "Number of defined metrics.",
				func(s *storage.ServiceStats) float64 { return float64(s.Metrics) }),
			gauge("registry", "dimensions", "Number of defined dimensions.",
				func(s *storage.ServiceStats) float64 { return float64(s.Dimensions) }),

			// Ingestion
			counter("ingest", "samples_recorded_total", "Samples accepted by RecordMetric.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.SamplesRecorded) }),
			counter("ingest", "samples_rejected_total", "Samples rejected by validation.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.SamplesRejected) }),
			gauge("ingest", "buffered_samples", "Samples waiting for the next flush.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.BufferCount) }),
			gauge("ingest", "buffered_metrics", "Metrics with samples waiting for the next flush.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.BufferMetrics) }),

			// Flush
			counter("flush", "samples_total", "Samples written to shards.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.SamplesFlushed) }),
			counter("flush", "completed_total", "Shards written.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.FlushesCompleted) }),
			counter("flush", "failed_total", "Flushes that failed and restored their samples.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.FlushesFailed) }),
			gauge("flush", "last_timestamp_seconds", "Timestamp of the newest shard.",
				func(s *storage.ServiceStats) float64 { return float64(s.Ingestion.LastFlushMs) / 1000 }),

			// Query
			counter("query", "executed_total", "Queries executed.",
				func(s *storage.ServiceStats) float64 { return float64(s.Query.QueriesExecuted) }),
			counter("query", "rows_total", "Samples returned by queries.",
				func(s *storage.ServiceStats) float64 { return float64(s.Query.RowsReturned) }),
			counter("query", "shards_scanned_total", "Shard files read by queries.",
				func(s *storage.ServiceStats) float64 { return float64(s.Query.ShardsScanned) }),
			counter("query", "errors_total", "Queries that failed.",
				func(s *storage.ServiceStats) float64 { return float64(s.Query.Errors) }),

			// Retention
			counter("retention", "runs_total", "Retention cleanup runs.",
				func(s *storage.ServiceStats) float64 { return float64(s.Retention.Runs) }),
			counter("retention", "files_deleted_total", "Expired shards deleted.",
				func(s *storage.ServiceStats) float64 { return float64(s.Retention.FilesDeleted) }),
			counter("retention", "bytes_freed_total", "Bytes freed by retention.",
				func(s *storage.ServiceStats) float64 { return float64(s.Retention.BytesFreed) }),
			counter("retention", "errors_total", "Shards that could not be deleted.",
				func(s *storage.ServiceStats) float64 { return float64(s.Retention.Errors) }),

			// Real-time
			gauge("broadcast", "subscribers", "Live subscribers.",
				func(s *storage.ServiceStats) float64 { return float64(s.Broadcast.Subscribers) }),
			counter("broadcast", "delivered_total", "Samples delivered to subscribers.",
				func(s *storage.ServiceStats) float64 { return float64(s.Broadcast.Delivered) }),
			counter("broadcast", "panics_total", "Subscriber callbacks that panicked.",
				func(s *storage.ServiceStats) float64 { return float64(s.Broadcast.Panics) }),
			gauge("live", "aggregates", "Metrics with a live summary.",
				func(s *storage.ServiceStats) float64 { return float64(s.Aggregates.ActiveAggregates) }),

			// System poller
			counter("sysmetrics", "polls_total", "Host metric poll cycles.",
				func(s *storage.ServiceStats) float64 { return float64(s.SystemPoll.Polls) }),
			counter("sysmetrics", "failures_total", "Host metric reads or records that failed.",
				func(s *storage.ServiceStats) float64 { return float64(s.SystemPoll.Failures) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&stats))
	}
}

// NewRegistry returns a registry with the collector plus the Go runtime and
// process collectors registered.
func NewRegistry(source StatsSource) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	cs := []prometheus.Collector{
		NewCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
