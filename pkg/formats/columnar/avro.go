package columnar

import (
	"io"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

type avroColumn struct {
	source string
	name   string
	branch string
	typ    core.FieldType
}

type avroWriter struct {
	ocf         *goavro.OCFWriter
	columns     []avroColumn
	rowsWritten int64
}

func newAvroWriter(w io.Writer, cfg *WriterConfig) (*avroWriter, error) {
	schemaJSON, columns, err := avroSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid avro schema")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: avroCompression(cfg.Compression),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create avro writer")
	}
	return &avroWriter{ocf: ocf, columns: columns}, nil
}

func (aw *avroWriter) WriteRows(rows []core.Row) error {
	if len(rows) == 0 {
		return nil
	}
	natives := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		native := make(map[string]interface{}, len(aw.columns))
		for _, c := range aw.columns {
			native[c.name] = avroValue(c, row[c.source])
		}
		natives = append(natives, native)
	}
	if err := aw.ocf.Append(natives); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to append avro block")
	}
	aw.rowsWritten += int64(len(rows))
	return nil
}

// Close is a no-op: OCF blocks are complete after every Append.
func (aw *avroWriter) Close() error { return nil }

func (aw *avroWriter) RowsWritten() int64 { return aw.rowsWritten }

func (aw *avroWriter) Format() Format { return Avro }

// avroSchema builds a record schema with nullable unions. Field names are
// sanitized to Avro identifiers.
func avroSchema(schema *core.Schema) (string, []avroColumn, error) {
	fields := make([]map[string]interface{}, 0, len(schema.Fields))
	columns := make([]avroColumn, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		typ, branch := avroType(f.Type)
		col := avroColumn{source: f.Name, name: stringpool.SanitizeIdentifier(f.Name), branch: branch, typ: f.Type}
		fields = append(fields, map[string]interface{}{
			"name":    col.name,
			"type":    []interface{}{"null", typ},
			"default": nil,
		})
		columns = append(columns, col)
	}
	name := stringpool.SanitizeIdentifier(schema.Name)
	if schema.Name == "" {
		name = "row"
	}
	data, err := jsonpool.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   name,
		"fields": fields,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode avro schema")
	}
	return string(data), columns, nil
}

func avroType(t core.FieldType) (interface{}, string) {
	switch t {
	case core.FieldTypeBool:
		return "boolean", "boolean"
	case core.FieldTypeInt:
		return "long", "long"
	case core.FieldTypeFloat:
		return "double", "double"
	case core.FieldTypeDate:
		return map[string]interface{}{"type": "int", "logicalType": "date"}, "int.date"
	case core.FieldTypeTimestamp:
		return map[string]interface{}{"type": "long", "logicalType": "timestamp-millis"}, "long.timestamp-millis"
	default:
		return "string", "string"
	}
}

func avroValue(c avroColumn, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch c.typ {
	case core.FieldTypeDate:
		if s, ok := v.(string); ok {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil
			}
			v = t
		}
	case core.FieldTypeString:
		if _, ok := v.(string); !ok {
			v = stringpool.ValueToString(v)
		}
	}
	return goavro.Union(c.branch, v)
}

func avroCompression(name string) string {
	switch name {
	case "deflate", "gzip":
		return goavro.CompressionDeflateLabel
	case "snappy":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// ReadAvro decodes every record of an object container file.
func ReadAvro(r io.Reader) ([]map[string]interface{}, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open avro file")
	}
	var out []map[string]interface{}
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read avro record")
		}
		rec, _ := datum.(map[string]interface{})
		out = append(out, rec)
	}
	return out, ocf.Err()
}
