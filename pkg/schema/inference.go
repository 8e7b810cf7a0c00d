// Package schema infers column types from sampled records and cleans record
// values so they match the inferred or established schema.
package schema

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
)

// DefaultSampleSize bounds the records inspected per batch.
const DefaultSampleSize = 100

// Inferencer derives a schema from a bounded sample of records.
type Inferencer struct {
	logger     *zap.Logger
	sampleSize int
}

// NewInferencer creates an inferencer sampling at most sampleSize records.
func NewInferencer(logger *zap.Logger, sampleSize int) *Inferencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Inferencer{logger: logger, sampleSize: sampleSize}
}

// Infer returns one field per key observed in the sample, sorted by name.
// Each field takes the widest ladder type seen among its values; fields that
// were null in some record are nullable and fields that were only ever null
// become nullable strings flagged NullOnly. The result depends only on the set
// of sampled records, not on their order.
func (i *Inferencer) Infer(name string, rows []core.Row) *core.Schema {
	sample := rows
	if len(sample) > i.sampleSize {
		sample = sample[:i.sampleSize]
	}

	type stats struct {
		typ     core.FieldType
		present int
		nulls   int
	}
	fields := make(map[string]*stats)
	for _, row := range sample {
		for key, value := range row {
			st, ok := fields[key]
			if !ok {
				st = &stats{}
				fields[key] = st
			}
			st.present++
			typ, isNull := classify(value)
			if isNull {
				st.nulls++
				continue
			}
			st.typ = core.Widen(st.typ, typ)
		}
	}

	out := &core.Schema{Name: name, Fields: make([]core.Field, 0, len(fields))}
	for key, st := range fields {
		f := core.Field{
			Name:     key,
			Type:     st.typ,
			Nullable: st.nulls > 0 || st.present < len(sample),
		}
		if st.typ == "" {
			f.Type = core.FieldTypeString
			f.Nullable = true
			f.NullOnly = true
		}
		out.Fields = append(out.Fields, f)
	}
	sort.Slice(out.Fields, func(a, b int) bool { return out.Fields[a].Name < out.Fields[b].Name })

	i.logger.Debug("schema inferred",
		zap.String("schema", name),
		zap.Int("sampled", len(sample)),
		zap.Int("fields", len(out.Fields)))
	return out
}
