// Package shard reads and writes the JSON files produced by each flush.
//
// File layout:
//
//	<storage_dir>/metrics_<13-digit unix ms>.json
//
//	{"timestamp": 1700000000000,
//	 "metrics": {"cpu": [{"value": 1, "dimensions": {}, "timestamp": 1700000000000}]}}
//
// The metric name is not repeated inside an entry; Read restores it from
// the enclosing key. Files are written to a .tmp sibling and renamed into
// place, so a listed shard is always complete.
package shard

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	defaults "github.com/xtxerr/tally/config"
	"github.com/xtxerr/tally/internal/storage/types"
)

// entry is one sample as stored on disk.
type entry struct {
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions"`
	Timestamp  int64             `json:"timestamp"`
}

// file is the on-disk shard document.
type file struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string][]entry `json:"metrics"`
}

// Info describes a shard file found on disk.
type Info struct {
	Path      string
	Name      string
	Timestamp int64 // from the file name
	Size      int64
	ModTime   time.Time
}

// Name returns the file name for a shard created at ts (Unix ms).
func Name(ts int64) string {
	return fmt.Sprintf("%s%013d%s", defaults.ShardPrefix, ts, defaults.ShardExt)
}

// ParseName extracts the timestamp from a shard file name.
func ParseName(name string) (int64, bool) {
	if !strings.HasPrefix(name, defaults.ShardPrefix) || !strings.HasSuffix(name, defaults.ShardExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, defaults.ShardPrefix), defaults.ShardExt)
	if digits == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}

// Write persists s into dir and returns the final path.
// An existing file with the same name is never overwritten.
func Write(dir string, s *types.Shard) (string, error) {
	doc := file{
		Timestamp: s.Timestamp,
		Metrics:   make(map[string][]entry, len(s.Metrics)),
	}
	for name, samples := range s.Metrics {
		if len(samples) == 0 {
			continue
		}
		entries := make([]entry, len(samples))
		for i, sample := range samples {
			dims := sample.Dimensions
			if dims == nil {
				dims = map[string]string{}
			}
			entries[i] = entry{
				Value:      sample.Value,
				Dimensions: dims,
				Timestamp:  sample.Timestamp,
			}
		}
		doc.Metrics[name] = entries
	}

	data, err := json.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("encode shard: %w", err)
	}

	path := filepath.Join(dir, Name(s.Timestamp))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("shard %s already exists", filepath.Base(path))
	}

	tmp := path + defaults.ShardTempExt
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create temp shard: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync shard: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close shard: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename shard: %w", err)
	}

	return path, nil
}

// Read loads a shard file.
func Read(path string) (*types.Shard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Decode parses a shard document.
func Decode(r io.Reader) (*types.Shard, error) {
	var doc file
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode shard: %w", err)
	}

	s := &types.Shard{
		Timestamp: doc.Timestamp,
		Metrics:   make(map[string][]types.Sample, len(doc.Metrics)),
	}
	for name, entries := range doc.Metrics {
		samples := make([]types.Sample, len(entries))
		for i, e := range entries {
			dims := e.Dimensions
			if dims == nil {
				dims = map[string]string{}
			}
			samples[i] = types.Sample{
				MetricName: name,
				Value:      e.Value,
				Dimensions: dims,
				Timestamp:  e.Timestamp,
			}
		}
		s.Metrics[name] = samples
	}
	return s, nil
}

// List returns the shard files in dir ordered by their name timestamp,
// oldest first. Temporary files and unrelated files are skipped. A missing
// directory yields an empty list.
func List(dir string) ([]Info, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ts, ok := ParseName(de.Name())
		if !ok {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		infos = append(infos, Info{
			Path:      filepath.Join(dir, de.Name()),
			Name:      de.Name(),
			Timestamp: ts,
			Size:      fi.Size(),
			ModTime:   fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp < infos[j].Timestamp
	})

	return infos, nil
}

// FilterRange drops shards that cannot hold samples at or after start.
// A shard's samples are never newer than the shard itself, so anything
// created before start is skipped. start <= 0 keeps everything.
func FilterRange(infos []Info, start int64) []Info {
	if start <= 0 {
		return infos
	}
	out := infos[:0:0]
	for _, info := range infos {
		if info.Timestamp >= start {
			out = append(out, info)
		}
	}
	return out
}
