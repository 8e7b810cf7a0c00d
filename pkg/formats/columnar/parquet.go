package columnar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

type parquetWriter struct {
	schema      *arrow.Schema
	fileWriter  *pqarrow.FileWriter
	builder     *array.RecordBuilder
	rowsWritten int64
}

func newParquetWriter(w io.Writer, cfg *WriterConfig) (*parquetWriter, error) {
	arrowSchema := ArrowSchema(cfg.Schema)
	mem := memory.NewGoAllocator()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCompression(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem))

	fw, err := pqarrow.NewFileWriter(arrowSchema, w, props, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create parquet writer")
	}
	return &parquetWriter{
		schema:     arrowSchema,
		fileWriter: fw,
		builder:    array.NewRecordBuilder(mem, arrowSchema),
	}, nil
}

// WriteRows writes rows as one record batch.
func (pw *parquetWriter) WriteRows(rows []core.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		for i, field := range pw.schema.Fields() {
			appendArrowValue(pw.builder.Field(i), row[field.Name])
		}
	}
	rec := pw.builder.NewRecord()
	defer rec.Release()

	if err := pw.fileWriter.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write parquet row group")
	}
	pw.rowsWritten += int64(len(rows))
	return nil
}

func (pw *parquetWriter) Close() error {
	pw.builder.Release()
	if err := pw.fileWriter.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close parquet writer")
	}
	return nil
}

func (pw *parquetWriter) RowsWritten() int64 { return pw.rowsWritten }

func (pw *parquetWriter) Format() Format { return Parquet }

// ArrowSchema maps a table schema to Arrow. Every column is nullable since
// later batches may omit fields.
func ArrowSchema(schema *core.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t core.FieldType) arrow.DataType {
	switch t {
	case core.FieldTypeBool:
		return arrow.FixedWidthTypes.Boolean
	case core.FieldTypeInt:
		return arrow.PrimitiveTypes.Int64
	case core.FieldTypeFloat:
		return arrow.PrimitiveTypes.Float64
	case core.FieldTypeDate:
		return arrow.FixedWidthTypes.Date32
	case core.FieldTypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

func appendArrowValue(b array.Builder, value interface{}) {
	if value == nil {
		b.AppendNull()
		return
	}
	switch builder := b.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(bool); ok {
			builder.Append(v)
			return
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			builder.Append(v)
			return
		case int:
			builder.Append(int64(v))
			return
		case float64:
			builder.Append(int64(v))
			return
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			builder.Append(v)
			return
		case int64:
			builder.Append(float64(v))
			return
		case int:
			builder.Append(float64(v))
			return
		}
	case *array.Date32Builder:
		switch v := value.(type) {
		case string:
			if t, err := time.Parse("2006-01-02", v); err == nil {
				builder.Append(arrow.Date32FromTime(t))
				return
			}
		case time.Time:
			builder.Append(arrow.Date32FromTime(v))
			return
		}
	case *array.TimestampBuilder:
		if v, ok := value.(time.Time); ok {
			builder.Append(arrow.Timestamp(v.UTC().UnixMilli()))
			return
		}
	case *array.StringBuilder:
		if v, ok := value.(string); ok {
			builder.Append(v)
		} else {
			builder.Append(fmt.Sprint(value))
		}
		return
	}
	b.AppendNull()
}

func parquetCompression(name string) compress.Compression {
	switch name {
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Snappy
	}
}

// ReadParquet reads a whole parquet file into memory and returns its row
// count and column names.
func ReadParquet(ctx context.Context, data []byte) (int64, []string, error) {
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read parquet file")
	}
	defer tbl.Release()

	names := make([]string, 0, tbl.NumCols())
	for _, f := range tbl.Schema().Fields() {
		names = append(names, f.Name)
	}
	return tbl.NumRows(), names, nil
}
