package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/tally/internal/storage/types"
)

// DefaultCodec is used when no compression is configured.
const DefaultCodec = "zstd"

var codecs = map[string]compress.Codec{
	"none":   &parquet.Uncompressed,
	"snappy": &parquet.Snappy,
	"zstd":   &parquet.Zstd,
	"lz4":    &parquet.Lz4Raw,
	"gzip":   &parquet.Gzip,
}

// Codec resolves a compression name. The empty name selects DefaultCodec.
func Codec(name string) (compress.Codec, error) {
	if name == "" {
		name = DefaultCodec
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown compression %q, want one of %s", name, strings.Join(CodecNames(), ", "))
	}
	return c, nil
}

// CodecNames lists the accepted compression names in sorted order.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures an export file.
type Options struct {
	// Compression is a name accepted by Codec.
	Compression string

	// RowGroupSize caps rows per row group. Zero leaves the library default.
	RowGroupSize int64
}

// DefaultOptions returns zstd compression with 100k row groups.
func DefaultOptions() Options {
	return Options{
		Compression:  DefaultCodec,
		RowGroupSize: 100_000,
	}
}

// SampleRow is the on-disk layout of one exported sample.
type SampleRow struct {
	Metric      string  `parquet:"metric,dict"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
	Dimensions  []Label `parquet:"dimensions"`
}

// Label is one dimension key/value pair.
type Label struct {
	Key   string `parquet:"key,dict"`
	Value string `parquet:"value,dict"`
}

// SampleToRow flattens a sample. Labels are sorted by key.
func SampleToRow(s *types.Sample) SampleRow {
	row := SampleRow{
		Metric:      s.MetricName,
		TimestampMs: s.Timestamp,
		Value:       s.Value,
	}
	if len(s.Dimensions) == 0 {
		return row
	}

	keys := make([]string, 0, len(s.Dimensions))
	for k := range s.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row.Dimensions = make([]Label, len(keys))
	for i, k := range keys {
		row.Dimensions[i] = Label{Key: k, Value: s.Dimensions[k]}
	}
	return row
}

// RowToSample rebuilds a sample. Dimensions are never nil.
func RowToSample(r *SampleRow) types.Sample {
	dims := make(map[string]string, len(r.Dimensions))
	for _, l := range r.Dimensions {
		dims[l.Key] = l.Value
	}

	return types.Sample{
		MetricName: r.Metric,
		Value:      r.Value,
		Dimensions: dims,
		Timestamp:  r.TimestampMs,
	}
}

// ErrWriterClosed is returned by Write after Commit or Abort.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// SampleWriter builds an export next to its destination and moves it into
// place on Commit, so readers never observe a half-written file.
type SampleWriter struct {
	mu     sync.Mutex
	path   string
	tmp    *os.File
	writer *parquet.GenericWriter[SampleRow]
	rows   int64
	done   bool
}

// NewSampleWriter starts an export to path, creating parent directories.
func NewSampleWriter(path string, opts Options) (*SampleWriter, error) {
	codec, err := Codec(opts.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}

	wopts := []parquet.WriterOption{parquet.Compression(codec)}
	if opts.RowGroupSize > 0 {
		wopts = append(wopts, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}

	return &SampleWriter{
		path:   path,
		tmp:    tmp,
		writer: parquet.NewGenericWriter[SampleRow](tmp, wopts...),
	}, nil
}

// Write appends samples.
func (w *SampleWriter) Write(samples []types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return ErrWriterClosed
	}
	if len(samples) == 0 {
		return nil
	}

	rows := make([]SampleRow, len(samples))
	for i := range samples {
		rows[i] = SampleToRow(&samples[i])
	}

	n, err := w.writer.Write(rows)
	w.rows += int64(n)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// Commit finishes the file and renames it to its destination. On failure
// the partial file is removed. Calling Commit twice is a no-op.
func (w *SampleWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true

	if err := w.writer.Close(); err != nil {
		w.discard()
		return fmt.Errorf("finish export: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("sync export: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

// Abort drops the partial file. The destination is left untouched.
func (w *SampleWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return
	}
	w.done = true
	w.discard()
}

func (w *SampleWriter) discard() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// RowCount returns the number of rows written so far.
func (w *SampleWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
