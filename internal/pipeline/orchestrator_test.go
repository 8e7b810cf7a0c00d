package pipeline

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/sources/sample"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/state"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, registry.RegisterAll(reg))
	return reg
}

func sampleSource(options map[string]interface{}) *core.ConnectorConfig {
	return &core.ConnectorConfig{
		Type:      core.ConnectorTypeSample,
		Options:   options,
		SyncModes: map[string]core.SyncMode{sample.StreamEvents: core.SyncModeIncremental},
	}
}

func csvDestination(root string) *core.DestinationDescriptor {
	return &core.DestinationDescriptor{
		Type:    core.DestinationTypeCSV,
		Options: map[string]interface{}{"exportRoot": root},
	}
}

func exported(t *testing.T, root, stream string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(root, stream+"_*.csv"))
	require.NoError(t, err)
	return files
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}

func TestTransferTwoStreamsResumesIncremental(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	tracker := NewMemoryTracker()
	orch := NewTransferOrchestrator(newTestRegistry(t), store, tracker, testSyncConfig())

	first := t.TempDir()
	summary, err := orch.Run(ctx, TransferRequest{
		JobID:       "job-1",
		Source:      sampleSource(nil),
		Destination: csvDestination(first),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, summary.Status)
	assert.Equal(t, int64(27), summary.RecordsExtracted)
	assert.Equal(t, int64(27), summary.RecordsTransformed)
	assert.Equal(t, int64(27), summary.RecordsLoaded)
	assert.Zero(t, summary.RecordsFailed)
	assert.Empty(t, summary.Errors)

	require.Len(t, summary.Streams, 2)
	assert.Equal(t, sample.StreamAccounts, summary.Streams[0].Stream)
	assert.Equal(t, int64(3), summary.Streams[0].Loaded)
	assert.Equal(t, int64(24), summary.Streams[1].Loaded)

	require.Len(t, summary.Schemas, 2)
	for i, ts := range summary.Schemas {
		assert.Equal(t, summary.Streams[i].Target, ts.Target)
		assert.Equal(t, 1, ts.Batches)
		assert.NotEmpty(t, ts.Fingerprint)
		assert.NotEmpty(t, ts.Fields)
	}

	accounts := exported(t, first, sample.StreamAccounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, accounts[0], summary.Streams[0].Location)
	assert.Equal(t, 4, countLines(t, accounts[0]))
	events := exported(t, first, sample.StreamEvents)
	require.Len(t, events, 1)
	assert.Equal(t, 25, countLines(t, events[0]))

	saved, err := store.Get(ctx, string(core.ConnectorTypeSample), sample.StreamEvents)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "2024-01-01T23:00:00Z", saved.Cursor["updatedAt"])
	none, err := store.Get(ctx, string(core.ConnectorTypeSample), sample.StreamAccounts)
	require.NoError(t, err)
	assert.Nil(t, none)

	rec, ok := tracker.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, []core.Status{core.StatusRunning, core.StatusSuccess}, rec.History)
	assert.Equal(t, 2, rec.Metrics.StreamsCompleted)
	assert.Equal(t, int64(27), rec.Metrics.RecordsLoaded)

	second := t.TempDir()
	summary, err = orch.Run(ctx, TransferRequest{
		JobID:       "job-2",
		Source:      sampleSource(nil),
		Destination: csvDestination(second),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, summary.Status)
	assert.Equal(t, int64(3), summary.RecordsExtracted)
	assert.Equal(t, int64(0), summary.Streams[1].Loaded)
	assert.Len(t, exported(t, second, sample.StreamAccounts), 1)
	assert.Empty(t, exported(t, second, sample.StreamEvents))
}

func TestTransferSingleStreamUsesTableName(t *testing.T) {
	root := t.TempDir()
	dest := csvDestination(root)
	dest.TableName = "daily_accounts"

	orch := NewTransferOrchestrator(newTestRegistry(t), nil, nil, testSyncConfig())
	src := sampleSource(nil)
	src.Streams = []string{sample.StreamAccounts}

	summary, err := orch.Run(context.Background(), TransferRequest{Source: src, Destination: dest})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.JobID)
	require.Len(t, summary.Streams, 1)
	assert.Equal(t, "daily_accounts", summary.Streams[0].Target)
	assert.Len(t, exported(t, root, "daily_accounts"), 1)
}

func TestTransferSkipsFailedStream(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	orch := NewTransferOrchestrator(newTestRegistry(t), store, nil, testSyncConfig())
	root := t.TempDir()

	summary, err := orch.Run(ctx, TransferRequest{
		Source:      sampleSource(map[string]interface{}{"fail_streams": []interface{}{sample.StreamAccounts}}),
		Destination: csvDestination(root),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, summary.Status)
	assert.Equal(t, int64(24), summary.RecordsLoaded)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "stream skipped")

	assert.Empty(t, exported(t, root, sample.StreamAccounts))
	assert.Len(t, exported(t, root, sample.StreamEvents), 1)

	saved, err := store.Get(ctx, string(core.ConnectorTypeSample), sample.StreamEvents)
	require.NoError(t, err)
	assert.NotNil(t, saved)
}

func TestTransferCancelledByTracker(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	tracker := NewMemoryTracker()
	tracker.Cancel("job-c")
	orch := NewTransferOrchestrator(newTestRegistry(t), store, tracker, testSyncConfig())

	summary, err := orch.Run(ctx, TransferRequest{
		JobID:       "job-c",
		Source:      sampleSource(nil),
		Destination: csvDestination(t.TempDir()),
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.Equal(t, core.StatusCancelled, summary.Status)
	assert.Zero(t, store.Len())

	rec, ok := tracker.Get("job-c")
	require.True(t, ok)
	assert.Equal(t, core.StatusCancelled, rec.Status)
}

func TestTransferBufferLimit(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Performance.MaxBufferedRecords = 10
	orch := NewTransferOrchestrator(newTestRegistry(t), nil, nil, cfg)

	src := sampleSource(nil)
	src.Streams = []string{sample.StreamEvents}
	summary, err := orch.Run(context.Background(), TransferRequest{Source: src, Destination: csvDestination(t.TempDir())})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransfer))
	assert.Equal(t, core.StatusFailed, summary.Status)
	assert.Zero(t, summary.RecordsLoaded)
}

type unreachableAdapter struct {
	closed bool
}

func (a *unreachableAdapter) Type() core.DestinationType { return core.DestinationTypePostgres }
func (a *unreachableAdapter) TestConnection(context.Context) error {
	return os.ErrDeadlineExceeded
}
func (a *unreachableAdapter) EnsureTarget(context.Context, string, *core.Schema, core.WritePolicy) error {
	return nil
}
func (a *unreachableAdapter) WriteBatch(context.Context, string, []core.Row) (core.WriteResult, error) {
	return core.WriteResult{}, nil
}
func (a *unreachableAdapter) Location(string) string { return "" }
func (a *unreachableAdapter) Close(context.Context) error {
	a.closed = true
	return nil
}

func TestTransferDestinationUnreachable(t *testing.T) {
	adapter := &unreachableAdapter{}
	tracker := NewMemoryTracker()
	orch := NewTransferOrchestrator(newTestRegistry(t), nil, tracker, testSyncConfig()).
		WithAdapterFactory(func(context.Context, *core.DestinationDescriptor, config.SyncConfig) (core.DestinationAdapter, error) {
			return adapter, nil
		})

	summary, err := orch.Run(context.Background(), TransferRequest{
		JobID:       "job-u",
		Source:      sampleSource(nil),
		Destination: &core.DestinationDescriptor{Type: core.DestinationTypePostgres},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, core.StatusFailed, summary.Status)
	assert.True(t, adapter.closed)

	rec, ok := tracker.Get("job-u")
	require.True(t, ok)
	assert.Equal(t, []core.Status{core.StatusFailed}, rec.History)
	assert.Equal(t, "connection", rec.ErrorType)
}

func TestTransferRequiresSourceAndDestination(t *testing.T) {
	orch := NewTransferOrchestrator(newTestRegistry(t), nil, nil, testSyncConfig())
	_, err := orch.Run(context.Background(), TransferRequest{Source: sampleSource(nil)})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestTargetName(t *testing.T) {
	desc := &core.DestinationDescriptor{TableName: "explicit", TablePrefix: "li"}
	assert.Equal(t, "explicit", TargetName(desc, "accounts", 1))
	assert.NotEqual(t, "explicit", TargetName(desc, "accounts", 2))
}

func BenchmarkTransferSampleToCSV(b *testing.B) {
	reg := registry.NewRegistry()
	require.NoError(b, registry.RegisterAll(reg))
	orch := NewTransferOrchestrator(reg, nil, nil, testSyncConfig())
	src := &core.ConnectorConfig{
		Type:    core.ConnectorTypeSample,
		Options: map[string]interface{}{"accounts": 100, "events": 10000, "page_size": 500},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		summary, err := orch.Run(context.Background(), TransferRequest{Source: src, Destination: csvDestination(b.TempDir())})
		if err != nil {
			b.Fatal(err)
		}
		b.ReportMetric(float64(summary.RecordsLoaded)/summary.Duration.Seconds(), "records/s")
	}
}
