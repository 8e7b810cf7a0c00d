package schema

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
)

var (
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}`)
)

// timestampLayouts are the ISO-8601 shapes accepted as timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// placeholders are tokens providers use for "no value".
var placeholders = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"n/a":  true,
	"na":   true,
	"null": true,
	"none": true,
	"nan":  true,
}

// IsPlaceholder reports whether s is an empty or placeholder token.
func IsPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// classify returns the narrowest ladder type for one value and whether the
// value counts as null.
func classify(v interface{}) (core.FieldType, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case bool:
		return core.FieldTypeBool, false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return core.FieldTypeInt, false
	case float32:
		return classifyFloat(float64(x)), false
	case float64:
		return classifyFloat(x), false
	case jsonpool.Number:
		if _, err := x.Int64(); err == nil {
			return core.FieldTypeInt, false
		}
		if _, err := x.Float64(); err == nil {
			return core.FieldTypeFloat, false
		}
		return core.FieldTypeString, false
	case time.Time:
		return core.FieldTypeTimestamp, false
	case string:
		if IsPlaceholder(x) {
			return "", true
		}
		return classifyString(strings.TrimSpace(x)), false
	default:
		// nested objects and arrays fall back to encoded JSON strings
		return core.FieldTypeString, false
	}
}

func classifyFloat(f float64) core.FieldType {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return core.FieldTypeString
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return core.FieldTypeInt
	}
	return core.FieldTypeFloat
}

func classifyString(s string) core.FieldType {
	switch strings.ToLower(s) {
	case "true", "false":
		return core.FieldTypeBool
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return core.FieldTypeInt
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return core.FieldTypeFloat
	}
	if _, ok := parseDate(s); ok {
		return core.FieldTypeDate
	}
	if _, ok := parseTimestamp(s); ok {
		return core.FieldTypeTimestamp
	}
	return core.FieldTypeString
}

// parseDate accepts strict YYYY-MM-DD only.
func parseDate(s string) (time.Time, bool) {
	if !datePattern.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}

func parseTimestamp(s string) (time.Time, bool) {
	if !timestampPattern.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
