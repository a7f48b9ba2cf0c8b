package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/tally/internal/logging"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/shard"
)

func newManager(t *testing.T, days int) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorageDir = dir
	cfg.RetentionPeriod = days

	return New(cfg, logging.Discard()), dir
}

// writeShard creates a shard file with the given age.
func writeShard(t *testing.T, dir string, ts int64, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, shard.Name(ts))
	if err := os.WriteFile(path, []byte(`{"timestamp":0,"metrics":{}}`), 0644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestManager_New(t *testing.T) {
	m := New(nil, nil)
	if m == nil {
		t.Fatal("manager is nil")
	}
	if m.config.RetentionPeriod <= 0 {
		t.Error("expected default retention period")
	}
}

func TestManager_RunCleanup(t *testing.T) {
	m, dir := newManager(t, 1)

	old1 := writeShard(t, dir, 1000, 48*time.Hour)
	old2 := writeShard(t, dir, 2000, 25*time.Hour)
	fresh := writeShard(t, dir, 3000, time.Minute)

	// Not shards: left alone regardless of age
	other := filepath.Join(dir, "notes.txt")
	os.WriteFile(other, []byte("x"), 0644)
	past := time.Now().Add(-100 * 24 * time.Hour)
	os.Chtimes(other, past, past)

	result := m.RunCleanup()

	if result.FilesDeleted != 2 {
		t.Errorf("expected 2 files deleted, got %d", result.FilesDeleted)
	}
	if result.FilesSkipped != 1 {
		t.Errorf("expected 1 file skipped, got %d", result.FilesSkipped)
	}
	if result.BytesFreed <= 0 {
		t.Error("expected bytes freed")
	}
	if err := result.Err(); err != nil {
		t.Errorf("unexpected errors: %v", err)
	}

	if exists(old1) || exists(old2) {
		t.Error("expired shards should be deleted")
	}
	if !exists(fresh) {
		t.Error("fresh shard should be kept")
	}
	if !exists(other) {
		t.Error("unrelated file should be kept")
	}
}

func TestManager_Boundary(t *testing.T) {
	m, dir := newManager(t, 1)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	tests := []struct {
		name    string
		mtime   time.Time
		deleted bool
	}{
		{"exactly at cutoff", fixed.Add(-24 * time.Hour), false},
		{"one second past cutoff", fixed.Add(-24*time.Hour - time.Second), true},
		{"inside window", fixed.Add(-time.Hour), false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, shard.Name(int64(i+1)))
			os.WriteFile(path, []byte("{}"), 0644)
			if err := os.Chtimes(path, tt.mtime, tt.mtime); err != nil {
				t.Fatal(err)
			}

			m.RunCleanup()

			if exists(path) == tt.deleted {
				t.Errorf("deleted=%v, want %v", !exists(path), tt.deleted)
			}
			os.Remove(path)
		})
	}
}

func TestManager_DeleteFailureContinues(t *testing.T) {
	m, dir := newManager(t, 1)

	bad := writeShard(t, dir, 1000, 48*time.Hour)
	good := writeShard(t, dir, 2000, 48*time.Hour)

	m.remove = func(path string) error {
		if path == bad {
			return fmt.Errorf("permission denied")
		}
		return os.Remove(path)
	}

	result := m.RunCleanup()

	if result.FilesDeleted != 1 {
		t.Errorf("expected 1 file deleted, got %d", result.FilesDeleted)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
	if exists(good) {
		t.Error("second shard should still be deleted after first failure")
	}
	if m.Stats().Errors != 1 {
		t.Errorf("expected 1 error in stats, got %d", m.Stats().Errors)
	}
}

func TestManager_MissingDirectory(t *testing.T) {
	m, dir := newManager(t, 1)
	m.config.StorageDir = filepath.Join(dir, "gone")

	result := m.RunCleanup()
	if result.FilesDeleted != 0 || len(result.Errors) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestManager_DryRun(t *testing.T) {
	m, dir := newManager(t, 1)

	old := writeShard(t, dir, 1000, 72*time.Hour)
	writeShard(t, dir, 2000, time.Minute)

	result := m.DryRun()

	if !result.DryRun {
		t.Error("result should be marked dry run")
	}
	if result.FilesDeleted != 1 || len(result.Deleted) != 1 || result.Deleted[0] != shard.Name(1000) {
		t.Errorf("unexpected dry run result %+v", result)
	}
	if !exists(old) {
		t.Error("file should still exist after dry run")
	}
	if m.Stats().Runs != 0 {
		t.Error("dry run should not count as a run")
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	m, dir := newManager(t, 7)

	for i := 1; i <= 3; i++ {
		writeShard(t, dir, int64(i), time.Duration(i)*time.Hour)
	}
	os.WriteFile(filepath.Join(dir, shard.Name(9)+".tmp"), []byte("partial"), 0644)

	usage, err := m.GetDiskUsage()
	if err != nil {
		t.Fatalf("GetDiskUsage: %v", err)
	}
	if usage.FileCount != 3 {
		t.Errorf("expected 3 files, got %d", usage.FileCount)
	}
	if usage.TotalSize <= 0 {
		t.Error("expected positive total size")
	}
	if !usage.Oldest.Before(usage.Newest) {
		t.Errorf("oldest %v should precede newest %v", usage.Oldest, usage.Newest)
	}
}

func TestManager_FormatDiskUsage(t *testing.T) {
	m, dir := newManager(t, 7)
	writeShard(t, dir, 1, time.Hour)

	output := m.FormatDiskUsage()

	for _, want := range []string{"Disk Usage", dir, "1 files", "7 days"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q:\n%s", want, output)
		}
	}
}

func TestManager_Stats(t *testing.T) {
	m, dir := newManager(t, 1)
	writeShard(t, dir, 1, 48*time.Hour)

	stats := m.Stats()
	if stats.FilesDeleted != 0 {
		t.Errorf("expected 0 files deleted initially, got %d", stats.FilesDeleted)
	}

	m.RunCleanup()
	m.RunCleanup()

	stats = m.Stats()
	if stats.FilesDeleted != 1 {
		t.Errorf("expected 1 file deleted, got %d", stats.FilesDeleted)
	}
	if stats.Runs != 2 {
		t.Errorf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.LastRunTime.IsZero() {
		t.Error("last run time should be set")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d): expected %s, got %s", tt.bytes, tt.expected, result)
		}
	}
}
