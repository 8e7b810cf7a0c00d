package athena

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

// ColumnType maps a core field type onto a Hive/Athena column type.
func ColumnType(t core.FieldType) string {
	switch t {
	case core.FieldTypeBool:
		return "boolean"
	case core.FieldTypeInt:
		return "bigint"
	case core.FieldTypeFloat:
		return "double"
	case core.FieldTypeDate:
		return "date"
	case core.FieldTypeTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// FieldTypeOf maps an Athena column type back onto a core field type. Types
// with no counterpart, such as array<string>, keep their base name and only
// accept null-only fields.
func FieldTypeOf(columnType string) core.FieldType {
	t := strings.ToLower(strings.TrimSpace(columnType))
	if i := strings.IndexAny(t, "(<"); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "boolean":
		return core.FieldTypeBool
	case "tinyint", "smallint", "int", "integer", "bigint":
		return core.FieldTypeInt
	case "float", "real", "double", "decimal":
		return core.FieldTypeFloat
	case "date":
		return core.FieldTypeDate
	case "timestamp":
		return core.FieldTypeTimestamp
	case "string", "varchar", "char":
		return core.FieldTypeString
	default:
		return core.FieldType(t)
	}
}

// withColumnTypes returns schema typed like columns, the conformed catalog
// schema of the same fields in the same order.
func withColumnTypes(schema, columns *core.Schema) *core.Schema {
	out := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(schema.Fields))}
	for i, f := range schema.Fields {
		f.Type = columns.Fields[i].Type
		f.Nullable = true
		f.NullOnly = false
		out.Fields[i] = f
	}
	return out
}

// withTable adds the target table to a schema conflict.
func withTable(err error, table string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		e.WithDetail("table", table)
	}
	return err
}

// tableSchema renames fields to the lowercase identifiers the Glue catalog
// stores. The Parquet files use the same names so columns resolve by name.
func tableSchema(schema *core.Schema) *core.Schema {
	out := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(schema.Fields))}
	for i, f := range schema.Fields {
		f.Name = stringpool.SanitizeIdentifier(f.Name)
		f.Nullable = true
		out.Fields[i] = f
	}
	return out
}

// renameRows rekeys rows from source field names to catalog column names.
func renameRows(schema *core.Schema, rows []core.Row) []core.Row {
	out := make([]core.Row, len(rows))
	for i, row := range rows {
		renamed := make(core.Row, len(schema.Fields))
		for _, f := range schema.Fields {
			if v, ok := row[f.Name]; ok {
				renamed[stringpool.SanitizeIdentifier(f.Name)] = v
			}
		}
		out[i] = renamed
	}
	return out
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// CreateTableSQL returns the CREATE EXTERNAL TABLE statement for Parquet data
// under location.
func CreateTableSQL(database, table string, schema *core.Schema, location string) string {
	cols := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = fmt.Sprintf("%s %s", quote(f.Name), ColumnType(f.Type))
	}
	return fmt.Sprintf("CREATE EXTERNAL TABLE IF NOT EXISTS %s.%s (%s) STORED AS PARQUET LOCATION '%s'",
		quote(database), quote(table), strings.Join(cols, ", "), location)
}

// DropTableSQL returns the DROP TABLE statement. Data files are not removed by Athena.
func DropTableSQL(database, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", quote(database), quote(table))
}
