package schema

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

func sampleRows() []core.Row {
	return []core.Row{
		{"id": 1, "active": true, "amount": "12.5", "day": "2024-03-01", "seen": "2024-03-01T10:00:00Z", "tags": []interface{}{"a"}, "note": nil},
		{"id": float64(2), "active": "false", "amount": 3, "day": "2024-03-02", "seen": "2024-03-02", "tags": `[""]`, "note": nil},
		{"id": "3", "active": false, "amount": "", "day": "2024-03-03", "seen": "2024-03-03 08:30:00", "tags": "", "extra": "x"},
	}
}

func TestInfer_Ladder(t *testing.T) {
	s := NewInferencer(nil, 100).Infer("events", sampleRows())

	want := map[string]core.Field{
		"active": {Name: "active", Type: core.FieldTypeBool},
		"amount": {Name: "amount", Type: core.FieldTypeFloat, Nullable: true},
		"day":    {Name: "day", Type: core.FieldTypeDate},
		"extra":  {Name: "extra", Type: core.FieldTypeString, Nullable: true},
		"id":     {Name: "id", Type: core.FieldTypeInt},
		"note":   {Name: "note", Type: core.FieldTypeString, Nullable: true, NullOnly: true},
		"seen":   {Name: "seen", Type: core.FieldTypeTimestamp},
		"tags":   {Name: "tags", Type: core.FieldTypeString, Nullable: true},
	}
	require.Len(t, s.Fields, len(want))
	for i, f := range s.Fields {
		if i > 0 {
			assert.Less(t, s.Fields[i-1].Name, f.Name)
		}
		assert.Equal(t, want[f.Name], f, f.Name)
	}
}

func TestInfer_DeterministicAcrossOrder(t *testing.T) {
	rows := sampleRows()
	inf := NewInferencer(nil, 100)
	first := inf.Infer("events", rows)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]core.Row(nil), rows...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, first, inf.Infer("events", shuffled))
	}
}

func TestInfer_SampleBound(t *testing.T) {
	rows := []core.Row{{"v": 1}, {"v": 2}, {"v": "text"}}
	s := NewInferencer(nil, 2).Infer("s", rows)
	assert.Equal(t, core.FieldTypeInt, s.Fields[0].Type)
}

func TestCleaner_Rules(t *testing.T) {
	rows := sampleRows()
	s := NewInferencer(nil, 100).Infer("events", rows)
	cleaned := NewCleaner().Clean(s, rows)
	require.Len(t, cleaned, 3)

	assert.Equal(t, int64(1), cleaned[0]["id"])
	assert.Equal(t, int64(3), cleaned[2]["id"])
	assert.Equal(t, false, cleaned[1]["active"])
	assert.Equal(t, 12.5, cleaned[0]["amount"])
	assert.Equal(t, 3.0, cleaned[1]["amount"])
	assert.Equal(t, 0.0, cleaned[2]["amount"], "placeholder in numeric column")
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), cleaned[1]["seen"])
	assert.Equal(t, `["a"]`, cleaned[0]["tags"])
	assert.Equal(t, "[]", cleaned[1]["tags"], "malformed array artifact")
	assert.Equal(t, "[]", cleaned[2]["tags"])
	assert.Nil(t, cleaned[0]["extra"])
	assert.Contains(t, cleaned[0], "extra")

	// inputs untouched
	assert.Equal(t, "12.5", rows[0]["amount"])
}

func TestCleaner_DateTruncation(t *testing.T) {
	s := &core.Schema{Fields: []core.Field{{Name: "d", Type: core.FieldTypeDate, Nullable: true}}}
	cleaned := NewCleaner().Clean(s, []core.Row{
		{"d": "2024-05-06T12:00:00Z"},
		{"d": "2024-05-06"},
		{"d": "not a date at all"},
		{"d": time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)},
	})
	assert.Equal(t, "2024-05-06", cleaned[0]["d"])
	assert.Equal(t, "2024-05-06", cleaned[1]["d"])
	assert.Nil(t, cleaned[2]["d"])
	assert.Equal(t, "2024-05-06", cleaned[3]["d"])
}

func TestCleaner_Deterministic(t *testing.T) {
	rows := sampleRows()
	s := NewInferencer(nil, 100).Infer("events", rows)
	c := NewCleaner()
	assert.Equal(t, c.Clean(s, rows), c.Clean(s, rows))
}

func TestRegistry_Reconcile(t *testing.T) {
	r := NewRegistry(nil)
	first := &core.Schema{Name: "events", Fields: []core.Field{
		{Name: "id", Type: core.FieldTypeInt},
		{Name: "value", Type: core.FieldTypeFloat},
	}}

	got, isFirst, err := r.Reconcile("events", first)
	require.NoError(t, err)
	assert.True(t, isFirst)
	assert.Same(t, first, got)

	narrower := &core.Schema{Name: "events", Fields: []core.Field{{Name: "value", Type: core.FieldTypeInt}}}
	got, isFirst, err = r.Reconcile("events", narrower)
	require.NoError(t, err)
	assert.False(t, isFirst)
	assert.Same(t, first, got)

	wider := &core.Schema{Name: "events", Fields: []core.Field{{Name: "id", Type: core.FieldTypeString}}}
	_, _, err = r.Reconcile("events", wider)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))

	est, ok := r.Get("events")
	require.True(t, ok)
	assert.Equal(t, 2, est.Batches)
	assert.Equal(t, Fingerprint(first), est.Fingerprint)
	assert.Equal(t, []string{"events"}, r.Subjects())
}

func TestRegistry_ReconcileAcrossTypeFamilies(t *testing.T) {
	tests := []struct {
		name    string
		first   []core.Row
		next    []core.Row
		wantErr bool
	}{
		{"numbers into date", []core.Row{{"d": "2024-01-01"}}, []core.Row{{"d": 42}, {"d": true}}, true},
		{"date into number", []core.Row{{"d": 7}}, []core.Row{{"d": "2024-01-01"}}, true},
		{"bool into float", []core.Row{{"d": 1.5}}, []core.Row{{"d": true}}, false},
		{"date into timestamp", []core.Row{{"d": "2024-01-01T10:00:00Z"}}, []core.Row{{"d": "2024-01-02"}}, false},
		{"anything into string", []core.Row{{"d": "free text"}}, []core.Row{{"d": 3}, {"d": "2024-01-01"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := NewInferencer(nil, 100)
			r := NewRegistry(nil)
			_, _, err := r.Reconcile("events", inf.Infer("events", tt.first))
			require.NoError(t, err)

			established, _, err := r.Reconcile("events", inf.Infer("events", tt.next))
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))
				return
			}
			require.NoError(t, err)
			for _, row := range NewCleaner().Clean(established, tt.next) {
				assert.NotNil(t, row["d"])
			}
		})
	}
}

func TestInfer_MixedFamiliesWidenToString(t *testing.T) {
	rows := []core.Row{{"v": 5}, {"v": "2024-01-01"}}
	s := NewInferencer(nil, 100).Infer("s", rows)
	require.Len(t, s.Fields, 1)
	assert.Equal(t, core.FieldTypeString, s.Fields[0].Type)
	assert.Equal(t, []core.Row{{"v": "5"}, {"v": "2024-01-01"}}, NewCleaner().Clean(s, rows))
}
