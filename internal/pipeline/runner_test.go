package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/state"
)

// gatedSource emits n records on stream "items" and then waits for release
// before emitting the stream state.
type gatedSource struct {
	n       int
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource(n int) *gatedSource {
	return &gatedSource{n: n, started: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedSource) Type() core.ConnectorType { return core.ConnectorTypeSample }
func (s *gatedSource) Spec() core.ConnectionSpec { return core.ConnectionSpec{} }
func (s *gatedSource) Close() error { return nil }
func (s *gatedSource) CheckConnection(context.Context) core.ConnectionStatus {
	return core.ConnectionSucceeded("ok")
}

func (s *gatedSource) Discover(context.Context) (*core.Catalog, error) {
	return &core.Catalog{Streams: []core.StreamDescriptor{{
		Name:               "items",
		Fields:             []core.Field{{Name: "id", Type: core.FieldTypeInt}},
		SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh, core.SyncModeIncremental},
		DefaultCursorField: "id",
	}}}, nil
}

func (s *gatedSource) Read(ctx context.Context, streams []core.ConfiguredStream, st core.State) (*core.MessageStream, error) {
	return core.NewMessageStream(ctx, func(ctx context.Context, emit core.EmitFunc) error {
		s.once.Do(func() { close(s.started) })
		for i := 1; i <= s.n; i++ {
			if err := emit(core.NewRecordMessage("items", map[string]interface{}{"id": i}, time.Now())); err != nil {
				return err
			}
		}
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return emit(core.NewStateMessage("items", core.StreamState{"id": s.n}))
	}), nil
}

// fixedCatalogSource is a gatedSource that discovers the given streams.
type fixedCatalogSource struct {
	*gatedSource
	streams []core.StreamDescriptor
}

func (s *fixedCatalogSource) Discover(context.Context) (*core.Catalog, error) {
	return &core.Catalog{Streams: s.streams}, nil
}

type recordingSink struct {
	mu        sync.Mutex
	pages     map[string][][]core.Row
	completed []string
	failed    []string
	finished  bool
	recordErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{pages: make(map[string][][]core.Row)}
}

func (s *recordingSink) Begin(context.Context, []core.ConfiguredStream) error { return nil }

func (s *recordingSink) Records(_ context.Context, stream string, rows []core.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.pages[stream] = append(s.pages[stream], append([]core.Row(nil), rows...))
	return nil
}

func (s *recordingSink) StreamComplete(_ context.Context, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, stream)
	return nil
}

func (s *recordingSink) StreamFailed(_ context.Context, stream string, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, stream)
}

func (s *recordingSink) Finish(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

func testSyncConfig() config.SyncConfig {
	cfg := config.NewSyncConfig()
	cfg.Reliability.RetryAttempts = 1
	cfg.Reliability.RetryDelay = time.Millisecond
	return cfg
}

func TestExtractionRunnerRejectsConcurrentRun(t *testing.T) {
	src := newGatedSource(3)
	runner := NewExtractionRunner(src, nil, testSyncConfig())
	assert.Equal(t, core.StatusIdle, runner.Status())

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), RunRequest{JobID: "first", Sink: newRecordingSink()})
		done <- err
	}()
	<-src.started
	assert.Equal(t, core.StatusRunning, runner.Status())

	_, err := runner.Run(context.Background(), RunRequest{JobID: "second", Sink: newRecordingSink()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAlreadyRunning))

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, core.StatusSuccess, runner.Status())

	// a finished runner may run again
	result, err := runner.Run(context.Background(), RunRequest{JobID: "third", Sink: newRecordingSink()})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, result.Status)
	assert.Equal(t, int64(3), result.Extracted())
}

func TestExtractionRunnerPagesAndPersistsState(t *testing.T) {
	src := newGatedSource(5)
	close(src.release)
	store := state.NewMemoryStore()
	cfg := testSyncConfig()
	cfg.Performance.BatchSize = 2

	sink := newRecordingSink()
	runner := NewExtractionRunner(src, store, cfg)
	result, err := runner.Run(context.Background(), RunRequest{
		JobID:     "job",
		SyncModes: map[string]core.SyncMode{"items": core.SyncModeIncremental},
		Sink:      sink,
	})
	require.NoError(t, err)

	require.Len(t, sink.pages["items"], 3)
	assert.Len(t, sink.pages["items"][0], 2)
	assert.Len(t, sink.pages["items"][2], 1)
	assert.Equal(t, []string{"items"}, sink.completed)
	assert.True(t, sink.finished)

	require.Len(t, result.Streams, 1)
	assert.True(t, result.Streams[0].Completed)
	assert.Equal(t, core.StreamState{"id": 5}, result.Streams[0].State)

	saved, err := store.Get(context.Background(), string(core.ConnectorTypeSample), "items")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 5, saved.Cursor["id"])
	assert.Equal(t, state.SchemaVersion, saved.Version)
}

func TestExtractionRunnerFullRefreshKeepsNoState(t *testing.T) {
	src := newGatedSource(2)
	close(src.release)
	store := state.NewMemoryStore()

	runner := NewExtractionRunner(src, store, testSyncConfig())
	_, err := runner.Run(context.Background(), RunRequest{JobID: "job", Sink: newRecordingSink()})
	require.NoError(t, err)

	saved, err := store.Get(context.Background(), string(core.ConnectorTypeSample), "items")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestExtractionRunnerSinkErrorFailsJob(t *testing.T) {
	src := newGatedSource(2)
	close(src.release)
	sink := newRecordingSink()
	sink.recordErr = errors.New(errors.ErrorTypeTransfer, "buffer full")
	tracker := NewMemoryTracker()

	runner := NewExtractionRunner(src, nil, testSyncConfig())
	result, err := runner.Run(context.Background(), RunRequest{JobID: "job", Sink: sink, Tracker: tracker})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransfer))
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.False(t, sink.finished)
	assert.Equal(t, []string{"items"}, sink.failed)

	rec, ok := tracker.Get("job")
	require.True(t, ok)
	assert.Equal(t, []core.Status{core.StatusRunning, core.StatusFailed}, rec.History)
}

func TestExtractionRunnerCancelledContext(t *testing.T) {
	src := newGatedSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewExtractionRunner(src, nil, testSyncConfig())
	result, err := runner.Run(ctx, RunRequest{JobID: "job", Sink: newRecordingSink()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.Equal(t, core.StatusCancelled, result.Status)
	assert.Equal(t, core.StatusCancelled, runner.Status())
}

func TestExtractionRunnerRequiresSink(t *testing.T) {
	runner := NewExtractionRunner(newGatedSource(1), nil, testSyncConfig())
	_, err := runner.Run(context.Background(), RunRequest{JobID: "job"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, core.StatusIdle, runner.Status())
}

func TestExtractionRunnerRejectsInvalidCatalog(t *testing.T) {
	item := core.StreamDescriptor{Name: "items", SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh}}
	tests := []struct {
		name    string
		streams []core.StreamDescriptor
	}{
		{"duplicate stream names", []core.StreamDescriptor{item, item}},
		{"empty stream name", []core.StreamDescriptor{item, {SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fixedCatalogSource{gatedSource: newGatedSource(1), streams: tt.streams}
			close(src.release)
			sink := newRecordingSink()

			runner := NewExtractionRunner(src, nil, testSyncConfig())
			result, err := runner.Run(context.Background(), RunRequest{JobID: "job", Sink: sink})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			assert.Equal(t, core.StatusFailed, result.Status)
			assert.Empty(t, sink.pages)
			select {
			case <-src.started:
				t.Fatal("source was read")
			default:
			}
		})
	}
}
