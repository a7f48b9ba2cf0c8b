package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/tally/internal/storage/types"
)

// readBatch is the number of rows decoded per call into parquet-go.
const readBatch = 4096

// SampleReader streams samples out of an exported Parquet file.
type SampleReader struct {
	file   *os.File
	reader *parquet.GenericReader[SampleRow]
}

// NewSampleReader opens an exported file for reading.
func NewSampleReader(path string) (*SampleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}

	return &SampleReader{
		file:   f,
		reader: parquet.NewGenericReader[SampleRow](f),
	}, nil
}

// NumRows returns the number of samples in the file.
func (r *SampleReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Each calls fn for every sample in file order. A non-nil error from fn
// stops the scan and is returned.
func (r *SampleReader) Each(fn func(types.Sample) error) error {
	rows := make([]SampleRow, readBatch)
	for {
		n, err := r.reader.Read(rows)
		for i := 0; i < n; i++ {
			if ferr := fn(RowToSample(&rows[i])); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rows: %w", err)
		}
	}
}

// ReadAll decodes the remaining samples.
func (r *SampleReader) ReadAll() ([]types.Sample, error) {
	samples := make([]types.Sample, 0, r.NumRows())
	err := r.Each(func(s types.Sample) error {
		samples = append(samples, s)
		return nil
	})
	return samples, err
}

// Close releases the reader and its file.
func (r *SampleReader) Close() error {
	err := r.reader.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFile returns every sample in an exported file.
func ReadFile(path string) ([]types.Sample, error) {
	r, err := NewSampleReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}
