// Package columnar writes cleaned rows as Parquet or Avro object container
// files. Both writers take the established schema of the target and stream
// rows into an io.Writer.
package columnar

import (
	"io"
	"strings"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// Format is a file format.
type Format string

const (
	Parquet Format = "parquet"
	Avro    Format = "avro"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case Parquet:
		return Parquet, nil
	case Avro:
		return Avro, nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unsupported columnar format %q", s)
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Writer appends rows to an open file.
type Writer interface {
	// WriteRows appends rows. Values must already match the schema types.
	WriteRows(rows []core.Row) error
	// Close flushes buffered data and writes the file footer.
	// It does not close the underlying io.Writer.
	Close() error
	// RowsWritten returns the number of rows appended so far
	RowsWritten() int64
	Format() Format
}

// WriterConfig configures a writer.
type WriterConfig struct {
	Schema *core.Schema
	// Compression is the codec inside the file: snappy, zstd, gzip or none
	Compression string
}

// NewWriter creates a writer for format.
func NewWriter(w io.Writer, format Format, cfg *WriterConfig) (Writer, error) {
	if cfg == nil || cfg.Schema == nil || len(cfg.Schema.Fields) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "a non-empty schema is required for columnar output")
	}
	switch format {
	case Parquet:
		return newParquetWriter(w, cfg)
	case Avro:
		return newAvroWriter(w, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported columnar format %q", string(format))
	}
}
