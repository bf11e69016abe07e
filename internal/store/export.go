package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xtxerr/procrank/internal/storage/parquet"
	"github.com/xtxerr/procrank/internal/types"
	"github.com/xtxerr/procrank/internal/validation"
)

// CSVHeader is the first line of every CSV export.
var CSVHeader = []string{
	"timestamp", "pid", "name", "path",
	"cpu_usage_percent", "cpu_time_total_ms", "memory_usage_bytes",
	"disk_read_bytes", "disk_write_bytes",
}

// parquetBatch is how many rows are buffered per Parquet write.
const parquetBatch = 1000

// ExportCSV writes the header and every raw metric row of the inclusive day
// range to w. Fields containing a comma, quote or newline are quoted with
// embedded quotes doubled. It returns the number of data rows written.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, startDay, endDay time.Time) (int64, error) {
	if err := validation.ValidateDayRange(s.startOfDay(startDay), s.startOfDay(endDay)); err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	var n int64
	record := make([]string, len(CSVHeader))
	err := s.ScanRange(ctx, startDay, endDay, func(r types.MetricRow) error {
		record[0] = r.Timestamp.In(s.loc).Format(validation.TimestampLayout)
		record[1] = strconv.FormatInt(int64(r.PID), 10)
		record[2] = r.Name
		record[3] = r.Path
		record[4] = strconv.FormatFloat(r.CPUUsagePercent, 'f', -1, 64)
		record[5] = strconv.FormatFloat(r.CPUTimeTotalMs, 'f', -1, 64)
		record[6] = strconv.FormatInt(r.MemoryUsageBytes, 10)
		record[7] = strconv.FormatInt(r.DiskReadBytes, 10)
		record[8] = strconv.FormatInt(r.DiskWriteBytes, 10)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// ExportParquet writes every raw metric row of the inclusive day range to a
// Parquet file at path. The file is removed again if the export fails.
func (s *Store) ExportParquet(ctx context.Context, path string, startDay, endDay time.Time) (int64, error) {
	if err := validation.ValidateDayRange(s.startOfDay(startDay), s.startOfDay(endDay)); err != nil {
		return 0, err
	}

	w, err := parquet.NewMetricWriter(path, s.parquetOpts)
	if err != nil {
		return 0, err
	}

	batch := make([]types.MetricRow, 0, parquetBatch)
	err = s.ScanRange(ctx, startDay, endDay, func(r types.MetricRow) error {
		batch = append(batch, r)
		if len(batch) < parquetBatch {
			return nil
		}
		err := w.Write(batch)
		batch = batch[:0]
		return err
	})
	if err == nil {
		err = w.Write(batch)
	}
	return s.finishParquet(w, err)
}

// ExportSegmentParquet writes one whole segment to a Parquet file at path.
func (s *Store) ExportSegmentParquet(ctx context.Context, segment, path string) (int64, error) {
	rows, err := s.SegmentRows(ctx, segment)
	if err != nil {
		return 0, err
	}

	w, err := parquet.NewMetricWriter(path, s.parquetOpts)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(rows) && err == nil; i += parquetBatch {
		end := i + parquetBatch
		if end > len(rows) {
			end = len(rows)
		}
		err = w.Write(rows[i:end])
	}
	return s.finishParquet(w, err)
}

func (s *Store) finishParquet(w *parquet.MetricWriter, err error) (int64, error) {
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			log.Warn("remove partial parquet file", "path", w.Path(), "error", abortErr)
		}
		return 0, err
	}
	if err := w.Close(); err != nil {
		w.Abort()
		return 0, err
	}
	return w.RowCount(), nil
}
