// Package parquet implements Parquet file reading and writing for persisted
// metric rows.
//
// The package provides:
//   - MetricWriter/MetricReader for rows of one or more monthly segments
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between store rows and Parquet records
//
// It backs two features: ad-hoc range exports and the retention archive,
// which keeps a copy of every segment before it is dropped.
package parquet
