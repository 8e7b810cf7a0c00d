// Package strings holds the string helpers shared by sources and destinations.
package strings

import (
	"fmt"
	"strconv"
	stdstrings "strings"
	"time"
	"unicode"
)

// ValueToString renders a record value the way flat files and query text expect it.
// Nil becomes the empty string.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

// SanitizeIdentifier lowercases name and replaces every run of characters that
// are not ASCII letters or digits with one underscore, so the result can be
// used as a table or file name. Leading digits get an underscore prefix.
func SanitizeIdentifier(name string) string {
	var b stdstrings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range stdstrings.ToLower(stdstrings.TrimSpace(name)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := stdstrings.Trim(b.String(), "_")
	if out == "" {
		return "_"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

// TableName joins an optional prefix and a stream name into a sanitized identifier.
func TableName(prefix, stream string) string {
	if prefix == "" {
		return SanitizeIdentifier(stream)
	}
	return SanitizeIdentifier(prefix + "_" + stream)
}
