package parquet

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/procrank/internal/types"
)

func testRows(ts time.Time, n int) []types.MetricRow {
	rows := make([]types.MetricRow, n)
	for i := range rows {
		rows[i] = types.MetricRow{
			Timestamp:        ts.Add(time.Duration(i/10) * time.Minute),
			PID:              int32(100 + i),
			Name:             "proc",
			Path:             "/usr/bin/proc",
			CPUUsagePercent:  float64(i%100) + 0.25,
			CPUTimeTotalMs:   float64(i) * 10,
			MemoryUsageBytes: int64(i) << 20,
			DiskReadBytes:    int64(i * 3),
			DiskWriteBytes:   int64(i * 2),
		}
	}
	return rows
}

func TestMetricWriterBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.parquet")

	w, err := NewMetricWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewMetricWriter: %v", err)
	}

	if err := w.Write(testRows(time.Now(), 2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.RowCount() != 2 {
		t.Errorf("row count = %d", w.RowCount())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}
}

func TestMetricWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "metrics.parquet")

	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, 10, 19, 14, 30, 0, 123456000, loc)
	rows := testRows(ts, 3)
	rows[1].Name = `quoted, "name"`
	rows[2].PID = types.MergedPID

	w, err := NewMetricWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewMetricWriter: %v", err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewMetricReader(path, loc)
	if err != nil {
		t.Fatalf("NewMetricReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 3 {
		t.Errorf("NumRows = %d", r.NumRows())
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("read %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if !got[i].Timestamp.Equal(rows[i].Timestamp) {
			t.Errorf("row %d timestamp = %v, want %v", i, got[i].Timestamp, rows[i].Timestamp)
		}
		if got[i].Timestamp.Location() != loc {
			t.Errorf("row %d location = %v", i, got[i].Timestamp.Location())
		}
		g, want := got[i], rows[i]
		g.Timestamp, want.Timestamp = time.Time{}, time.Time{}
		if g != want {
			t.Errorf("row %d = %+v, want %+v", i, g, want)
		}
	}
}

func TestLargeWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.parquet")

	w, err := NewMetricWriter(path, Options{Compression: CompressionSnappy, RowGroupSize: 1000})
	if err != nil {
		t.Fatalf("NewMetricWriter: %v", err)
	}

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for batch := 0; batch < 10; batch++ {
		if err := w.Write(testRows(ts.Add(time.Duration(batch)*time.Hour), 1000)); err != nil {
			t.Fatalf("Write batch %d: %v", batch, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.NumRows != 10000 {
		t.Errorf("NumRows = %d, want 10000", info.NumRows)
	}

	r, err := NewMetricReader(path, nil)
	if err != nil {
		t.Fatalf("NewMetricReader: %v", err)
	}
	defer r.Close()

	total := 0
	for {
		rows, err := r.Read(4096)
		total += len(rows)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(rows) == 0 {
			break
		}
	}
	if total != 10000 {
		t.Errorf("streamed %d rows, want 10000", total)
	}
}

func TestCompressionTypes(t *testing.T) {
	for _, ct := range []CompressionType{
		CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip,
	} {
		path := filepath.Join(t.TempDir(), "c.parquet")
		w, err := NewMetricWriter(path, Options{Compression: ct})
		if err != nil {
			t.Fatalf("compression %d: %v", ct, err)
		}
		if err := w.Write(testRows(time.Now(), 50)); err != nil {
			t.Fatalf("compression %d write: %v", ct, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("compression %d close: %v", ct, err)
		}

		info, err := GetFileInfo(path)
		if err != nil {
			t.Fatalf("compression %d info: %v", ct, err)
		}
		if info.NumRows != 50 {
			t.Errorf("compression %d: NumRows = %d", ct, info.NumRows)
		}
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"snappy", CompressionSnappy, false},
		{"zstd", CompressionZstd, false},
		{"lz4", CompressionLZ4, false},
		{"gzip", CompressionGzip, false},
		{"none", CompressionNone, false},
		{"", CompressionZstd, false},
		{"bogus", CompressionZstd, true},
	}
	for _, tt := range tests {
		got, err := ParseCompressionType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompressionType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEmptyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	w, err := NewMetricWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(nil); err != nil {
		t.Errorf("empty write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.NumRows != 0 {
		t.Errorf("NumRows = %d", info.NumRows)
	}
}

func TestWriteToClosedWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.parquet")
	w, err := NewMetricWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	if err := w.Write(testRows(time.Now(), 1)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.parquet")
	w, err := NewMetricWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write(testRows(time.Now(), 5))

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file should be removed, stat err = %v", err)
	}
}

func TestGetFileInfoMissing(t *testing.T) {
	if _, err := GetFileInfo(filepath.Join(t.TempDir(), "nope.parquet")); err == nil {
		t.Error("expected error for missing file")
	}
}
