package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/tally/config"
)

// Config represents the complete metrics engine configuration.
type Config struct {
	// StorageDir is the directory holding shard files. Required.
	StorageDir string `yaml:"storage_dir"`

	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// EnableRealTimeAnalysis turns on subscriber broadcasting and live summaries.
	EnableRealTimeAnalysis bool `yaml:"enable_real_time_analysis"`

	// RetentionPeriod is the maximum shard age in days.
	RetentionPeriod int `yaml:"retention_period"`

	// RetentionCheckInterval is the period of the background reaper.
	RetentionCheckInterval time.Duration `yaml:"retention_check_interval"`

	// SystemPoll configures the built-in host metrics poller.
	SystemPoll SystemPollConfig `yaml:"system_poll"`

	// LiveSummary configures real-time quantile sketches.
	LiveSummary LiveSummaryConfig `yaml:"live_summary"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`
}

// SystemPollConfig configures the built-in host metrics poller.
type SystemPollConfig struct {
	// Enabled enables the poller. The built-in metrics are defined either way.
	Enabled bool `yaml:"enabled"`

	// Interval is the polling interval.
	Interval time.Duration `yaml:"interval"`
}

// LiveSummaryConfig configures real-time quantile sketches.
type LiveSummaryConfig struct {
	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// Parallelism bounds how many shard files are decoded concurrently.
	Parallelism int `yaml:"parallelism"`

	// MaxRows caps the number of samples a single query may return. 0 = unlimited.
	MaxRows int `yaml:"max_rows"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Compression is one of: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// Retention returns the retention period as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionPeriod) * 24 * time.Hour
}

// Load loads configuration from a YAML file. Unknown keys are ignored.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Read parses a YAML config file over the defaults without validating it,
// so callers can apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return config, nil
}

// options mirrors the recognized keys of an embedding application's option
// object. Pointers distinguish "absent" from zero.
type options struct {
	StorageDir             string `mapstructure:"storageDir"`
	FlushInterval          *int64 `mapstructure:"flushInterval"` // milliseconds
	EnableRealTimeAnalysis *bool  `mapstructure:"enableRealTimeAnalysis"`
	RetentionPeriod        *int   `mapstructure:"retentionPeriod"` // days
}

// FromOptions builds a Config from a loosely typed option map such as one
// decoded from JSON. Recognized keys: storageDir, flushInterval (ms),
// enableRealTimeAnalysis, retentionPeriod (days). Unknown keys are ignored
// and absent keys keep their defaults.
func FromOptions(opts map[string]any) (*Config, error) {
	var o options

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &o,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create option decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	config := DefaultConfig()
	config.StorageDir = o.StorageDir
	if o.FlushInterval != nil {
		config.FlushInterval = time.Duration(*o.FlushInterval) * time.Millisecond
	}
	if o.EnableRealTimeAnalysis != nil {
		config.EnableRealTimeAnalysis = *o.EnableRealTimeAnalysis
	}
	if o.RetentionPeriod != nil {
		config.RetentionPeriod = *o.RetentionPeriod
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
// StorageDir is left empty; callers must set it.
func DefaultConfig() *Config {
	return &Config{
		FlushInterval:          defaults.DefaultFlushInterval,
		EnableRealTimeAnalysis: true,
		RetentionPeriod:        defaults.DefaultRetentionDays,
		RetentionCheckInterval: defaults.DefaultRetentionCheckInterval,
		SystemPoll: SystemPollConfig{
			Enabled:  true,
			Interval: defaults.DefaultSystemPollInterval,
		},
		LiveSummary: LiveSummaryConfig{
			Accuracy: defaults.DefaultSketchAccuracy,
		},
		Query: QueryConfig{
			Parallelism: defaults.DefaultQueryParallelism,
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}
