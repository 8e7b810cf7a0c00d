package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/testutil"
)

func TestAdvance_NeverMovesBackwards(t *testing.T) {
	tests := []struct {
		name string
		prev core.StreamState
		next core.StreamState
		want core.StreamState
	}{
		{"first run", nil, core.StreamState{"updatedAt": "2024-01-02T00:00:00Z"}, core.StreamState{"updatedAt": "2024-01-02T00:00:00Z"}},
		{"forward", core.StreamState{"updatedAt": "2024-01-01T00:00:00Z"}, core.StreamState{"updatedAt": "2024-01-02T00:00:00Z"}, core.StreamState{"updatedAt": "2024-01-02T00:00:00Z"}},
		{"backwards kept", core.StreamState{"updatedAt": "2024-01-03T00:00:00Z"}, core.StreamState{"updatedAt": "2024-01-02T00:00:00Z"}, core.StreamState{"updatedAt": "2024-01-03T00:00:00Z"}},
		{"mixed timestamp formats", core.StreamState{"t": "2024-01-02"}, core.StreamState{"t": "2024-01-01T23:00:00Z"}, core.StreamState{"t": "2024-01-02"}},
		{"numeric", core.StreamState{"id": 10.0}, core.StreamState{"id": 9}, core.StreamState{"id": 10.0}},
		{"keeps other keys", core.StreamState{"a": "x"}, core.StreamState{"b": "y"}, core.StreamState{"a": "x", "b": "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Advance(tt.prev, tt.next))
		})
	}
}

func TestCompareCursor(t *testing.T) {
	assert.Equal(t, -1, CompareCursor("9", "10"))
	assert.Equal(t, 1, CompareCursor(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "2024-01-31T00:00:00Z"))
	assert.Equal(t, 0, CompareCursor("abc", "abc"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, config.StateConfig{Backend: "memory"})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, "sample", "events")
	require.NoError(t, err)
	assert.Nil(t, got)

	cursor := core.StreamState{"updatedAt": "2024-01-01T00:00:00Z"}
	require.NoError(t, store.Save(ctx, &SyncState{Connector: "sample", Stream: "events", Cursor: cursor}))
	cursor["updatedAt"] = "mutated"

	got, err = store.Get(ctx, "sample", "events")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-01-01T00:00:00Z", got.Cursor["updatedAt"])
	assert.Equal(t, SchemaVersion, got.Version)

	loaded, err := Load(ctx, store, "sample", []string{"events", "accounts"})
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	require.NoError(t, store.Delete(ctx, "sample", "events"))
	got, err = store.Get(ctx, "sample", "events")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StateConfig{Backend: "etcd"})
	assert.Error(t, err)
}

// Live backends run only when a DSN is provided.
func TestPostgresStore_Live(t *testing.T) {
	dsn := testutil.RequireEnv(t, "NEBULA_SYNC_TEST_POSTGRES_DSN")
	ctx := testutil.Context(t)
	store, err := NewPostgresStore(ctx, dsn, "sync_state_test")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, &SyncState{Connector: "sample", Stream: "events", Cursor: core.StreamState{"updatedAt": "x"}}))
	got, err := store.Get(ctx, "sample", "events")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Cursor["updatedAt"])
	require.NoError(t, store.Delete(ctx, "sample", "events"))
}

func TestMongoStore_Live(t *testing.T) {
	uri := testutil.RequireEnv(t, "NEBULA_SYNC_TEST_MONGO_URI")
	ctx := testutil.Context(t)
	store, err := NewMongoStore(ctx, uri, "nebula_sync_test", "sync_state")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, &SyncState{Connector: "sample", Stream: "events", Cursor: core.StreamState{"updatedAt": "x"}}))
	got, err := store.Get(ctx, "sample", "events")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Cursor["updatedAt"])
	require.NoError(t, store.Delete(ctx, "sample", "events"))
}
