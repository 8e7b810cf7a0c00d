package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

func newSource(t *testing.T, options map[string]interface{}) *Source {
	t.Helper()
	syncCfg := config.NewSyncConfig()
	syncCfg.Reliability.RetryAttempts = 2
	syncCfg.Reliability.RetryDelay = time.Millisecond
	src, err := New(&core.ConnectorConfig{Type: core.ConnectorTypeSample, Options: options}, syncCfg)
	require.NoError(t, err)
	return src.(*Source)
}

func configure(t *testing.T, src *Source, names ...string) []core.ConfiguredStream {
	t.Helper()
	catalog, err := src.Discover(context.Background())
	require.NoError(t, err)
	streams, err := catalog.Configure(names, nil)
	require.NoError(t, err)
	return streams
}

func TestRead_RecordsPrecedeState(t *testing.T) {
	src := newSource(t, map[string]interface{}{"accounts": 2, "events": 5, "page_size": 2})
	stream, err := src.Read(context.Background(), configure(t, src), nil)
	require.NoError(t, err)

	msgs, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, msgs, 2+1+5+1)

	assert.Equal(t, core.MessageKindState, msgs[2].Kind)
	assert.Equal(t, StreamAccounts, msgs[2].State.Stream)
	assert.Equal(t, core.MessageKindState, msgs[8].Kind)
	assert.Equal(t, "2024-01-01T04:00:00Z", msgs[8].State.State["updatedAt"])
	for _, m := range msgs[3:8] {
		assert.Equal(t, StreamEvents, m.Record.Stream)
	}
}

func TestRead_IncrementalResumesAfterCursor(t *testing.T) {
	src := newSource(t, map[string]interface{}{"events": 10})
	streams := configure(t, src, StreamEvents)
	require.Equal(t, core.SyncModeIncremental, streams[0].SyncMode)

	state := core.State{StreamEvents: {"updatedAt": "2024-01-01T06:00:00Z"}}
	stream, err := src.Read(context.Background(), streams, state)
	require.NoError(t, err)
	msgs, err := stream.Collect()
	require.NoError(t, err)

	require.Len(t, msgs, 4)
	assert.Equal(t, 8, msgs[0].Record.Data["id"])
	assert.Equal(t, "2024-01-01T09:00:00Z", msgs[3].State.State["updatedAt"])
}

func TestRead_IncrementalNothingNewKeepsCursor(t *testing.T) {
	src := newSource(t, map[string]interface{}{"events": 3})
	state := core.State{StreamEvents: {"updatedAt": "2024-02-01T00:00:00Z"}}
	stream, err := src.Read(context.Background(), configure(t, src, StreamEvents), state)
	require.NoError(t, err)
	msgs, err := stream.Collect()
	require.NoError(t, err)

	require.Len(t, msgs, 1)
	assert.Equal(t, "2024-02-01T00:00:00Z", msgs[0].State.State["updatedAt"])
}

func TestRead_Deterministic(t *testing.T) {
	read := func() []map[string]interface{} {
		src := newSource(t, nil)
		stream, err := src.Read(context.Background(), configure(t, src), nil)
		require.NoError(t, err)
		msgs, err := stream.Collect()
		require.NoError(t, err)
		var rows []map[string]interface{}
		for _, m := range msgs {
			if m.Kind == core.MessageKindRecord {
				rows = append(rows, m.Record.Data)
			}
		}
		return rows
	}
	assert.Equal(t, read(), read())
}

func TestRead_FailStreamRetriesThenFails(t *testing.T) {
	src := newSource(t, map[string]interface{}{"fail_streams": []interface{}{"events"}})
	stream, err := src.Read(context.Background(), configure(t, src, StreamEvents), nil)
	require.NoError(t, err)
	_, err = stream.Collect()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
}

func TestRead_CloseStopsProducer(t *testing.T) {
	src := newSource(t, map[string]interface{}{"events": 1000})
	stream, err := src.Read(context.Background(), configure(t, src, StreamEvents), nil)
	require.NoError(t, err)

	_, ok := stream.Next()
	require.True(t, ok)
	assert.NoError(t, stream.Close())
}

func TestCheckConnection(t *testing.T) {
	assert.True(t, newSource(t, nil).CheckConnection(context.Background()).OK)

	status := newSource(t, map[string]interface{}{"fail_check": true}).CheckConnection(context.Background())
	assert.False(t, status.OK)
	assert.True(t, errors.IsType(status.Err, errors.ErrorTypeConnection))
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(&core.ConnectorConfig{Type: core.ConnectorTypeSample, Options: map[string]interface{}{"page_size": 0}}, config.NewSyncConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New(&core.ConnectorConfig{Type: core.ConnectorTypeSample, Options: map[string]interface{}{"base_time": "yesterday"}}, config.NewSyncConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
