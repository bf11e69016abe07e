package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/procrank/internal/types"
)

// MetricReader reads metric rows from a Parquet file.
type MetricReader struct {
	file   *os.File
	reader *parquet.GenericReader[MetricRecord]
	path   string
	loc    *time.Location
}

// NewMetricReader creates a new metric Parquet reader. Timestamps are
// returned in loc (UTC when nil).
func NewMetricReader(path string, loc *time.Location) (*MetricReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[MetricRecord](f)

	return &MetricReader{
		file:   f,
		reader: reader,
		path:   path,
		loc:    loc,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *MetricReader) Read(n int) ([]types.MetricRow, error) {
	records := make([]MetricRecord, n)
	count, err := r.reader.Read(records)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	rows := make([]types.MetricRow, count)
	for i := 0; i < count; i++ {
		rows[i] = RecordToRow(&records[i], r.loc)
	}

	return rows, nil
}

// ReadAll reads all rows from the file.
func (r *MetricReader) ReadAll() ([]types.MetricRow, error) {
	numRows := r.reader.NumRows()
	records := make([]MetricRecord, numRows)

	n, err := r.reader.Read(records)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	rows := make([]types.MetricRow, n)
	for i := 0; i < n; i++ {
		rows[i] = RecordToRow(&records[i], r.loc)
	}

	return rows, nil
}

// NumRows returns the total number of rows in the file.
func (r *MetricReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *MetricReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *MetricReader) Path() string {
	return r.path
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a metric Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[MetricRecord](f)
	defer reader.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: reader.NumRows(),
	}, nil
}
