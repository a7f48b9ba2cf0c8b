// Package config provides configuration defaults and utilities
// for the tally metrics engine.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or an option map.
package config

import "time"

// =============================================================================
// Flush Defaults
// =============================================================================

const (
	// DefaultFlushInterval is how often the in-memory buffer is written to a shard.
	// Override via config: flush_interval
	DefaultFlushInterval = 60 * time.Second

	// MinFlushInterval guards against a busy-looping flush timer.
	MinFlushInterval = 10 * time.Millisecond
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionDays is the maximum age of a shard before it is reaped.
	// Override via config: retention_period
	DefaultRetentionDays = 30

	// DefaultRetentionCheckInterval is how often the reaper scans the storage directory.
	// Override via config: retention_check_interval
	DefaultRetentionCheckInterval = time.Hour
)

// =============================================================================
// System Metrics Defaults
// =============================================================================

const (
	// DefaultSystemPollInterval is how often host CPU and memory gauges are recorded.
	// Override via config: system_poll.interval
	DefaultSystemPollInterval = 5 * time.Second

	// SystemCPUMetric is the built-in gauge for host CPU usage in percent.
	SystemCPUMetric = "system.cpu.usage"

	// SystemMemoryMetric is the built-in gauge for host memory usage in percent.
	SystemMemoryMetric = "system.memory.usage"
)

// =============================================================================
// Shard File Defaults
// =============================================================================

const (
	// ShardPrefix and ShardExt frame every shard file name:
	// metrics_<13-digit unix ms>.json. The fixed width keeps lexical and
	// chronological order identical.
	ShardPrefix = "metrics_"
	ShardExt    = ".json"

	// ShardTempExt marks a shard that is still being written.
	ShardTempExt = ".tmp"

	// DefaultQueryParallelism bounds concurrent shard decoding per query.
	DefaultQueryParallelism = 4
)

// =============================================================================
// Real-Time Analysis Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the relative accuracy of live quantile sketches.
	// Override via config: live_summary.accuracy
	DefaultSketchAccuracy = 0.01
)
