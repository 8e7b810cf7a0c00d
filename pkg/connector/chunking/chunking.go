// Package chunking splits field requests under a provider per-request field
// limit and merges the partial rows returned for each chunk.
package chunking

import (
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
)

// Planner computes field chunks for one provider endpoint.
type Planner struct {
	// Required fields are sent with every chunk and key the merged rows
	Required []string
	// Limit is the maximum number of fields per request, required fields included
	Limit int
	// Aliases maps caller field names to the API field that carries them,
	// e.g. dateRangeStart -> dateRange
	Aliases map[string]string
}

// Validate checks that at least one custom field fits next to the required ones.
func (p Planner) Validate() error {
	if p.Limit <= len(p.Required) {
		return errors.Newf(errors.ErrorTypeValidation,
			"field limit %d must exceed the %d required fields", p.Limit, len(p.Required))
	}
	return nil
}

// Unique returns the custom fields to request: fields with aliases converted,
// deduplicated in first-seen order, minus the required fields.
func (p Planner) Unique(fields []string) []string {
	skip := make(map[string]bool, len(p.Required)+len(fields))
	for _, r := range p.Required {
		skip[r] = true
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if alias, ok := p.Aliases[f]; ok {
			f = alias
		}
		if f == "" || skip[f] {
			continue
		}
		skip[f] = true
		out = append(out, f)
	}
	return out
}

// Chunks returns ceil(|U| / (Limit - |Required|)) field lists, each the
// required fields followed by a slice of U. With no custom fields it returns
// exactly one chunk holding the required fields.
func (p Planner) Chunks(fields []string) ([][]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	unique := p.Unique(fields)
	size := p.Limit - len(p.Required)

	if len(unique) == 0 {
		return [][]string{append([]string(nil), p.Required...)}, nil
	}

	chunks := make([][]string, 0, (len(unique)+size-1)/size)
	for start := 0; start < len(unique); start += size {
		end := start + size
		if end > len(unique) {
			end = len(unique)
		}
		chunk := make([]string, 0, len(p.Required)+end-start)
		chunk = append(chunk, p.Required...)
		chunk = append(chunk, unique[start:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Row is one provider result element.
type Row = map[string]interface{}

// Merger accumulates chunk results keyed by the tuple of key field values.
// Rows with an existing key are field-unioned into it, other rows are appended
// in arrival order. Merging the same rows twice leaves the result unchanged.
type Merger struct {
	keys  []string
	rows  []Row
	index map[string]int
}

// NewMerger creates a merger keyed on keys.
func NewMerger(keys []string) *Merger {
	return &Merger{keys: keys, index: make(map[string]int)}
}

// Add merges rows into the accumulator. Input rows are copied, never retained.
func (m *Merger) Add(rows []Row) error {
	for _, row := range rows {
		key, err := m.key(row)
		if err != nil {
			return err
		}
		if i, ok := m.index[key]; ok {
			for k, v := range row {
				m.rows[i][k] = v
			}
			continue
		}
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		m.index[key] = len(m.rows)
		m.rows = append(m.rows, cp)
	}
	return nil
}

// Rows returns the merged rows.
func (m *Merger) Rows() []Row {
	return m.rows
}

// Len returns the number of merged rows.
func (m *Merger) Len() int {
	return len(m.rows)
}

// key encodes the key values canonically; map keys are sorted by the encoder
// so nested objects such as dateRange compare by value.
func (m *Merger) key(row Row) (string, error) {
	values := make([]interface{}, len(m.keys))
	for i, k := range m.keys {
		values[i] = row[k]
	}
	b, err := jsonpool.Marshal(values)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode merge key")
	}
	return string(b), nil
}

// Merge is a convenience wrapper merging rows into acc on keys.
func Merge(acc, rows []Row, keys []string) ([]Row, error) {
	m := NewMerger(keys)
	if err := m.Add(acc); err != nil {
		return nil, err
	}
	if err := m.Add(rows); err != nil {
		return nil, err
	}
	return m.Rows(), nil
}
