// Package retention deletes shard files that have outlived the retention
// period.
//
// Age is taken from the file modification time, not the name. Deletion is
// fail-soft: a file that cannot be removed is logged and recorded in the
// result, and the scan continues with the next file.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/shard"
)

// Manager handles cleanup of expired shards.
type Manager struct {
	mu     sync.Mutex
	config *config.Config
	logger *slog.Logger
	stats  ManagerStats

	now    func() time.Time
	remove func(string) error
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	DryRun       bool
	Cutoff       time.Time
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Deleted      []string
	Errors       []error
}

// Err joins the per-file errors, or returns nil.
func (r *CleanupResult) Err() error {
	return errors.Join(r.Errors...)
}

// New creates a new retention manager.
func New(cfg *config.Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config: cfg,
		logger: logger,
		now:    time.Now,
		remove: os.Remove,
	}
}

// RunCleanup deletes every shard whose modification time is strictly
// older than the retention period.
func (m *Manager) RunCleanup() CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.cleanup(false)

	m.stats.Runs++
	m.stats.LastRunTime = m.now()
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		m.logger.Info("retention cleanup finished",
			"deleted", result.FilesDeleted,
			"freed", formatBytes(result.BytesFreed),
			"kept", result.FilesSkipped,
			"errors", len(result.Errors))
	}

	return result
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun() CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cleanup(true)
}

func (m *Manager) cleanup(dryRun bool) CleanupResult {
	cutoff := m.now().Add(-m.config.Retention())
	result := CleanupResult{DryRun: dryRun, Cutoff: cutoff}

	files, err := shard.List(m.config.StorageDir)
	if err != nil {
		result.Errors = append(result.Errors, errors.NewStorage("list shards", err))
		m.logger.Error("retention scan failed", "dir", m.config.StorageDir, "error", err)
		return result
	}

	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := m.remove(f.Path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				result.Errors = append(result.Errors, errors.NewStorage("delete "+f.Name, err))
				m.logger.Warn("failed to delete expired shard", "file", f.Name, "error", err)
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += f.Size
		result.Deleted = append(result.Deleted, f.Name)
	}

	return result
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	Runs         int64
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
	Oldest    time.Time // modification time of the oldest shard
	Newest    time.Time
}

// GetDiskUsage returns the size of all shards in the storage directory.
func (m *Manager) GetDiskUsage() (DiskUsage, error) {
	files, err := shard.List(m.config.StorageDir)
	if err != nil {
		return DiskUsage{}, errors.NewStorage("list shards", err)
	}

	var usage DiskUsage
	for _, f := range files {
		usage.FileCount++
		usage.TotalSize += f.Size
		if usage.Oldest.IsZero() || f.ModTime.Before(usage.Oldest) {
			usage.Oldest = f.ModTime
		}
		if f.ModTime.After(usage.Newest) {
			usage.Newest = f.ModTime
		}
	}

	return usage, nil
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage, err := m.GetDiskUsage()
	if err != nil {
		return fmt.Sprintf("Disk Usage: unavailable (%v)\n", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Disk Usage:\n")
	fmt.Fprintf(&b, "  Directory: %s\n", m.config.StorageDir)
	fmt.Fprintf(&b, "  Shards: %d files, %s\n", usage.FileCount, formatBytes(usage.TotalSize))
	if usage.FileCount > 0 {
		fmt.Fprintf(&b, "  Oldest: %s\n", usage.Oldest.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Newest: %s\n", usage.Newest.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "  Retention: %d days\n", m.config.RetentionPeriod)

	return b.String()
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
