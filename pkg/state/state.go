// Package state persists per-stream sync cursors between runs.
//
// The engine treats cursor blobs as opaque maps keyed by (connector, stream).
// Stores are keyed, so unrelated jobs never contend on the same record.
package state

import (
	"context"
	"strconv"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// SchemaVersion is the layout version written with every cursor blob.
const SchemaVersion = 1

// SyncState is the resume point of one stream.
type SyncState struct {
	Connector string           `json:"connector" bson:"connector"`
	Stream    string           `json:"stream" bson:"stream"`
	Cursor    core.StreamState `json:"cursor" bson:"cursor"`
	Version   int              `json:"version" bson:"version"`
	UpdatedAt time.Time        `json:"updated_at" bson:"updated_at"`
}

// Store reads and writes sync states.
type Store interface {
	// Get returns the state of a stream, or nil when none was saved
	Get(ctx context.Context, connector, stream string) (*SyncState, error)
	// Save upserts a state
	Save(ctx context.Context, s *SyncState) error
	// Delete forgets a state
	Delete(ctx context.Context, connector, stream string) error
	// Close releases connections
	Close() error
}

// New opens the store selected by cfg.
func New(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.Table)
	case "mongo":
		return NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Collection)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown state backend %q", cfg.Backend)
	}
}

// Load collects the saved cursors of streams into a core.State. Streams
// without saved state are absent from the result.
func Load(ctx context.Context, store Store, connector string, streams []string) (core.State, error) {
	out := make(core.State, len(streams))
	for _, stream := range streams {
		s, err := store.Get(ctx, connector, stream)
		if err != nil {
			return nil, err
		}
		if s != nil && len(s.Cursor) > 0 {
			out[stream] = s.Cursor.Clone()
		}
	}
	return out, nil
}

// Advance merges next into prev so that no cursor value moves backwards.
// Keys present only in prev are kept.
func Advance(prev, next core.StreamState) core.StreamState {
	out := prev.Clone()
	if out == nil {
		out = make(core.StreamState, len(next))
	}
	for k, v := range next {
		old, ok := out[k]
		if !ok || old == nil || CompareCursor(v, old) >= 0 {
			out[k] = v
		}
	}
	return out
}

// CompareCursor orders two cursor values. Numbers compare numerically,
// timestamps chronologically and everything else as strings.
func CompareCursor(a, b interface{}) int {
	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			return compareFloat(fa, fb)
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}
	sa, sb := toString(a), toString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
