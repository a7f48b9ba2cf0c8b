package config

import (
	"errors"
	"fmt"
	"os"

	defaults "github.com/xtxerr/tally/config"
	tallyerrors "github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/parquet"
)

// Validate checks the configuration for errors.
// The returned error matches errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	// StorageDir
	if c.StorageDir == "" {
		errs = append(errs, errors.New("storage_dir is required"))
	}

	if c.FlushInterval < defaults.MinFlushInterval {
		errs = append(errs, fmt.Errorf("flush_interval must be at least %s", defaults.MinFlushInterval))
	}

	if c.RetentionPeriod <= 0 {
		errs = append(errs, errors.New("retention_period must be a positive number of days"))
	}

	if c.RetentionCheckInterval <= 0 {
		errs = append(errs, errors.New("retention_check_interval must be positive"))
	}

	// SystemPoll
	if err := c.SystemPoll.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("system_poll: %w", err))
	}

	// LiveSummary
	if err := c.LiveSummary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("live_summary: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	// Export
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", tallyerrors.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the system poll configuration.
func (c *SystemPollConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return errors.New("interval must be positive when enabled")
	}
	return nil
}

// Validate checks the live summary configuration.
func (c *LiveSummaryConfig) Validate() error {
	if c.Accuracy <= 0 || c.Accuracy >= 1 {
		return errors.New("accuracy must be between 0 and 1")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Parallelism <= 0 {
		errs = append(errs, errors.New("parallelism must be positive"))
	}

	if c.MaxRows < 0 {
		errs = append(errs, errors.New("max_rows must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	if _, err := parquet.Codec(c.Compression); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// EnsureDirectories creates the storage directory if it does not exist.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.StorageDir, 0755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", c.StorageDir, err)
	}
	return nil
}
