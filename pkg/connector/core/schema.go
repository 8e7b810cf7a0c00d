package core

import (
	"sort"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// FieldType is an inferred or declared column type. Types form a widening
// ladder: boolean < integer < float < date < timestamp < string.
type FieldType string

const (
	FieldTypeBool      FieldType = "boolean"
	FieldTypeInt       FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeDate      FieldType = "date"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeString    FieldType = "string"
)

var fieldTypeRank = map[FieldType]int{
	FieldTypeBool:      0,
	FieldTypeInt:       1,
	FieldTypeFloat:     2,
	FieldTypeDate:      3,
	FieldTypeTimestamp: 4,
	FieldTypeString:    5,
}

// Rank returns the position of t on the widening ladder. Unknown types rank as string.
func (t FieldType) Rank() int {
	if r, ok := fieldTypeRank[t]; ok {
		return r
	}
	return fieldTypeRank[FieldTypeString]
}

// TypeFamily groups field types whose values convert into each other.
type TypeFamily string

const (
	FamilyNumeric  TypeFamily = "numeric"
	FamilyTemporal TypeFamily = "temporal"
	FamilyString   TypeFamily = "string"
	// FamilyOther holds destination column types with no inferred
	// counterpart, such as arrays or JSON columns.
	FamilyOther TypeFamily = "other"
)

// Family returns the family of t.
func (t FieldType) Family() TypeFamily {
	switch t {
	case FieldTypeBool, FieldTypeInt, FieldTypeFloat:
		return FamilyNumeric
	case FieldTypeDate, FieldTypeTimestamp:
		return FamilyTemporal
	case FieldTypeString:
		return FamilyString
	default:
		return FamilyOther
	}
}

// Fits reports whether values of type t can be stored in a column of type
// column without becoming null: any type fits a string column, otherwise t
// must share the column's family and rank at or below it. Columns of the
// other family only take their own type.
func (t FieldType) Fits(column FieldType) bool {
	switch column.Family() {
	case FamilyString:
		return true
	case FamilyOther:
		return t == column
	}
	return t.Family() == column.Family() && t.Rank() <= column.Rank()
}

// Widen returns the narrowest type able to hold values of both a and b.
// Types of different families widen to string.
func Widen(a, b FieldType) FieldType {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	switch {
	case a.Fits(b):
		return b
	case b.Fits(a):
		return a
	}
	return FieldTypeString
}

// Field is one column of a schema.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Nullable bool      `json:"nullable" yaml:"nullable"`
	// NullOnly marks an inferred field whose sampled values were all null.
	NullOnly bool `json:"null_only,omitempty" yaml:"null_only,omitempty"`
}

// Schema is an ordered list of fields. Inferred schemas are sorted by name.
type Schema struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field returns the field called name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether both schemas have the same fields, types and nullability.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		a, b := s.Fields[i], other.Fields[i]
		if a.Name != b.Name || a.Type != b.Type || a.Nullable != b.Nullable {
			return false
		}
	}
	return true
}

// CheckCompatible verifies that records described by next can be written to a
// target created from s. Every field of next must exist in s with a type that
// fits the established one (see FieldType.Fits); fields that were only ever
// null fit any column. Fields of s missing from next are written as null.
func (s *Schema) CheckCompatible(next *Schema) error {
	var conflicts []string
	for _, f := range next.Fields {
		established, ok := s.Field(f.Name)
		if !ok {
			conflicts = append(conflicts, f.Name+": not in established schema")
			continue
		}
		if f.NullOnly {
			continue
		}
		if !f.Type.Fits(established.Type) {
			conflicts = append(conflicts, f.Name+": "+string(f.Type)+" does not fit "+string(established.Type))
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	sort.Strings(conflicts)
	return errors.Newf(errors.ErrorTypeSchemaConflict, "batch schema incompatible with %q", s.Name).
		WithDetail("conflicts", conflicts)
}

// Conform checks next against s, the columns of an existing target, and
// returns next with every field typed as its target column and nullable.
func (s *Schema) Conform(next *Schema) (*Schema, error) {
	if err := s.CheckCompatible(next); err != nil {
		return nil, err
	}
	out := &Schema{Name: next.Name, Fields: make([]Field, len(next.Fields))}
	for i, f := range next.Fields {
		column, _ := s.Field(f.Name)
		f.Type = column.Type
		f.Nullable = true
		f.NullOnly = false
		out.Fields[i] = f
	}
	return out, nil
}
