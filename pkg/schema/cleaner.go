package schema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

// Cleaner coerces record values to schema field types. Output values are:
// bool, int64, float64, "YYYY-MM-DD" strings for dates, UTC time.Time for
// timestamps and strings, or nil.
type Cleaner struct{}

// NewCleaner creates a cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Clean returns new rows holding exactly the schema fields. Inputs are not
// modified. Values that cannot be represented in their column become nil.
// Identical input always produces identical output.
func (c *Cleaner) Clean(schema *core.Schema, rows []core.Row) []core.Row {
	arrayLike := make(map[string]bool)
	for _, f := range schema.Fields {
		if f.Type == core.FieldTypeString && isArrayColumn(f.Name, rows) {
			arrayLike[f.Name] = true
		}
	}

	out := make([]core.Row, len(rows))
	for i, row := range rows {
		cleaned := make(core.Row, len(schema.Fields))
		for _, f := range schema.Fields {
			cleaned[f.Name] = c.value(f, row[f.Name], arrayLike[f.Name])
		}
		out[i] = cleaned
	}
	return out
}

func (c *Cleaner) value(f core.Field, v interface{}, arrayLike bool) interface{} {
	if v == nil {
		return nil
	}
	switch f.Type {
	case core.FieldTypeBool:
		return toBool(v)
	case core.FieldTypeInt:
		if s, ok := v.(string); ok && IsPlaceholder(s) {
			return int64(0)
		}
		return toInt(v)
	case core.FieldTypeFloat:
		if s, ok := v.(string); ok && IsPlaceholder(s) {
			return float64(0)
		}
		return toFloat(v)
	case core.FieldTypeDate:
		return toDate(v)
	case core.FieldTypeTimestamp:
		return toTimestamp(v)
	default:
		return toText(v, arrayLike)
	}
}

func toBool(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
	}
	return nil
}

func toInt(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
	case float32:
		return toInt(float64(x))
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
	case jsonpool.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i
		}
	}
	return nil
}

func toFloat(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return toFloat(float64(x))
	case jsonpool.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	default:
		if i, ok := toInt(v).(int64); ok {
			return float64(i)
		}
	}
	return nil
}

// toDate keeps strict dates, truncates longer date-like strings to their
// first ten characters and nulls everything else.
func toDate(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02")
	case string:
		s := strings.TrimSpace(x)
		if len(s) > 10 {
			s = s[:10]
		}
		if _, ok := parseDate(s); ok {
			return s
		}
	}
	return nil
}

func toTimestamp(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string:
		s := strings.TrimSpace(x)
		if t, ok := parseTimestamp(s); ok {
			return t
		}
		if t, ok := parseDate(s); ok {
			return t.UTC()
		}
	}
	return nil
}

func toText(v interface{}, arrayLike bool) interface{} {
	switch x := v.(type) {
	case string:
		if arrayLike && isMalformedArray(x) {
			return "[]"
		}
		return x
	case map[string]interface{}, []interface{}, []string, []map[string]interface{}:
		b, err := jsonpool.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return stringpool.ValueToString(x)
	}
}

// isArrayColumn reports whether any value of column in rows is an array or a
// string holding a JSON array.
func isArrayColumn(column string, rows []core.Row) bool {
	for _, row := range rows {
		switch x := row[column].(type) {
		case []interface{}, []string, []map[string]interface{}:
			return true
		case string:
			s := strings.TrimSpace(x)
			if len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' && jsonpool.Valid([]byte(s)) {
				return true
			}
		}
	}
	return false
}

// isMalformedArray matches leftovers such as `[`, `[""]`, `"[]"` or `''`:
// strings that hold nothing once brackets, quotes, commas and spaces are removed.
func isMalformedArray(s string) bool {
	if IsPlaceholder(s) {
		return true
	}
	if jsonpool.Valid([]byte(s)) && strings.HasPrefix(strings.TrimSpace(s), "[") && strings.TrimSpace(s) != "[]" {
		var items []interface{}
		if err := jsonpool.Unmarshal([]byte(s), &items); err == nil {
			for _, item := range items {
				if str, ok := item.(string); !ok || !IsPlaceholder(str) {
					return false
				}
			}
			return true
		}
	}
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '"', '\'', ',', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return stripped == ""
}
