package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/base"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
	"github.com/ajitpratap0/nebula-sync/pkg/observability"
	"github.com/ajitpratap0/nebula-sync/pkg/pool"
	"github.com/ajitpratap0/nebula-sync/pkg/state"
)

// Sink consumes extracted records. Calls for one stream are sequential; with
// concurrent streams, calls for different streams may overlap.
type Sink interface {
	// Begin is called once with the resolved streams before extraction starts
	Begin(ctx context.Context, streams []core.ConfiguredStream) error
	// Records receives one page of records of stream in arrival order. The
	// slice is reused after the call returns.
	Records(ctx context.Context, stream string, rows []core.Row) error
	// StreamComplete is called after the last record of stream and before
	// its state is persisted
	StreamComplete(ctx context.Context, stream string) error
	// StreamFailed discards whatever was received for stream
	StreamFailed(ctx context.Context, stream string, err error)
	// Finish is called once after every stream ended, unless the run failed
	Finish(ctx context.Context) error
}

// MetricsReporter is implemented by sinks that contribute load counters to
// job status updates.
type MetricsReporter interface {
	JobMetrics() JobMetrics
}

// RunRequest parameterizes one extraction run.
type RunRequest struct {
	JobID string
	// Streams to sync; every discovered stream when empty
	Streams   []string
	SyncModes map[string]core.SyncMode
	Sink      Sink
	Tracker   JobTracker
}

// StreamResult is the outcome of one stream.
type StreamResult struct {
	Stream    string           `json:"stream"`
	SyncMode  core.SyncMode    `json:"sync_mode"`
	Records   int64            `json:"records"`
	Completed bool             `json:"completed"`
	State     core.StreamState `json:"state,omitempty"`
	Err       error            `json:"-"`
}

// RunResult is the outcome of a run.
type RunResult struct {
	JobID      string         `json:"job_id"`
	Status     core.Status    `json:"status"`
	Streams    []StreamResult `json:"streams"`
	Errors     []error        `json:"-"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Extracted sums the records of every stream.
func (r *RunResult) Extracted() int64 {
	var n int64
	for _, s := range r.Streams {
		n += s.Records
	}
	return n
}

var statusCodes = []core.Status{core.StatusIdle, core.StatusRunning, core.StatusSuccess, core.StatusFailed, core.StatusCancelled}

func statusCode(s core.Status) int32 {
	for i, v := range statusCodes {
		if v == s {
			return int32(i)
		}
	}
	return 0
}

// ExtractionRunner drives the read loop of one connector instance:
// Idle -> Running -> Success | Failed | Cancelled. At most one run executes
// at a time; a runner whose last run finished may run again.
type ExtractionRunner struct {
	connector     core.SourceConnector
	connectorType core.ConnectorType
	store         state.Store
	syncCfg       config.SyncConfig
	logger        *zap.Logger

	status atomic.Int32
}

// NewExtractionRunner creates an idle runner.
func NewExtractionRunner(conn core.SourceConnector, store state.Store, syncCfg config.SyncConfig) *ExtractionRunner {
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &ExtractionRunner{
		connector:     conn,
		connectorType: conn.Type(),
		store:         store,
		syncCfg:       syncCfg,
		logger:        logger.Get().With(zap.String("component", "extraction_runner"), zap.String("connector", string(conn.Type()))),
	}
}

// Status returns the current status.
func (r *ExtractionRunner) Status() core.Status {
	return statusCodes[r.status.Load()]
}

func (r *ExtractionRunner) start() error {
	running := statusCode(core.StatusRunning)
	for {
		cur := r.status.Load()
		if cur == running {
			return errors.Newf(errors.ErrorTypeAlreadyRunning, "connector %s is already running", r.connectorType)
		}
		if r.status.CompareAndSwap(cur, running) {
			return nil
		}
	}
}

// Run executes one extraction. The returned error is the fatal or
// cancellation error; a run with skipped streams succeeds and lists their
// errors in the result.
func (r *ExtractionRunner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Sink == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "run requires a sink")
	}
	if err := r.start(); err != nil {
		return nil, err
	}
	tracker := req.Tracker
	if tracker == nil {
		tracker = NopTracker{}
	}

	result := &RunResult{JobID: req.JobID, Status: core.StatusRunning, StartedAt: time.Now().UTC()}
	log := r.logger.With(zap.String("job_id", req.JobID))
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	if err := tracker.UpdateStatus(ctx, req.JobID, core.StatusRunning, nil, nil); err != nil {
		log.Warn("failed to report running status", zap.Error(err))
	}

	runErr := r.run(ctx, req, tracker, result, log)
	switch {
	case runErr == nil:
		if err := req.Sink.Finish(ctx); err != nil {
			runErr = err
			result.Status = core.StatusFailed
		} else {
			result.Status = core.StatusSuccess
		}
	case errors.IsType(runErr, errors.ErrorTypeCancelled):
		result.Status = core.StatusCancelled
	default:
		result.Status = core.StatusFailed
	}
	if runErr != nil {
		result.Errors = append(result.Errors, runErr)
	}
	result.FinishedAt = time.Now().UTC()

	jm := r.jobMetrics(result, req.Sink)
	if err := tracker.UpdateStatus(context.WithoutCancel(ctx), req.JobID, result.Status, &jm, runErr); err != nil {
		log.Warn("failed to report final status", zap.Error(err))
	}
	log.Info("extraction finished",
		zap.String("status", string(result.Status)),
		zap.Int64("records", result.Extracted()),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))

	r.status.Store(statusCode(result.Status))
	return result, runErr
}

func (r *ExtractionRunner) jobMetrics(result *RunResult, sink Sink) JobMetrics {
	var jm JobMetrics
	if reporter, ok := sink.(MetricsReporter); ok {
		jm = reporter.JobMetrics()
	}
	jm.RecordsExtracted = result.Extracted()
	jm.StreamsCompleted, jm.StreamsFailed = 0, 0
	for _, s := range result.Streams {
		if s.Completed {
			jm.StreamsCompleted++
		} else {
			jm.StreamsFailed++
		}
	}
	return jm
}

func (r *ExtractionRunner) run(ctx context.Context, req RunRequest, tracker JobTracker, result *RunResult, log *zap.Logger) error {
	catalog, err := r.connector.Discover(ctx)
	if err != nil {
		return err
	}
	if err := catalog.Validate(); err != nil {
		return err
	}
	streams, err := catalog.Configure(req.Streams, req.SyncModes)
	if err != nil {
		return err
	}

	var incremental []string
	for _, s := range streams {
		if s.SyncMode == core.SyncModeIncremental {
			incremental = append(incremental, s.Name())
		}
	}
	prior, err := state.Load(ctx, r.store, string(r.connectorType), incremental)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to load sync state")
	}

	if err := req.Sink.Begin(ctx, streams); err != nil {
		return err
	}

	result.Streams = make([]StreamResult, len(streams))
	limit := r.syncCfg.Performance.MaxConcurrentStreams
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, cs := range streams {
		i, cs := i, cs
		g.Go(func() error {
			res, err := r.runStream(gctx, req, tracker, cs, prior[cs.Name()], log)
			mu.Lock()
			result.Streams[i] = res
			if res.Err != nil && err == nil {
				result.Errors = append(result.Errors, res.Err)
			}
			mu.Unlock()
			return err
		})
	}
	return g.Wait()
}

// runStream extracts one stream. A non-nil error aborts the job; stream
// level failures are reported in the result.
func (r *ExtractionRunner) runStream(ctx context.Context, req RunRequest, tracker JobTracker, cs core.ConfiguredStream, prior core.StreamState, log *zap.Logger) (StreamResult, error) {
	name := cs.Name()
	res := StreamResult{Stream: name, SyncMode: cs.SyncMode}
	log = log.With(zap.String("stream", name), zap.String("sync_mode", string(cs.SyncMode)))

	ctx = logger.WithStream(ctx, name)
	ctx, span := observability.StartStream(ctx, string(r.connectorType), name)

	if err := r.checkCancelled(ctx, tracker, req.JobID); err != nil {
		span.End(err)
		return res, err
	}

	var input core.State
	if prior != nil {
		input = core.State{name: prior}
	}
	ms, err := r.connector.Read(ctx, []core.ConfiguredStream{cs}, input)
	if err != nil {
		return r.streamError(ctx, req, res, err, span, log)
	}

	batchSize := r.syncCfg.Performance.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	page := pool.GetPage(batchSize)
	defer pool.PutPage(page)
	var pending core.StreamState

	flush := func() error {
		if len(page.Rows) == 0 {
			return nil
		}
		if err := req.Sink.Records(ctx, name, page.Rows); err != nil {
			return err
		}
		page.Reset()
		return r.checkCancelled(ctx, tracker, req.JobID)
	}

	for {
		msg, ok := ms.Next()
		if !ok {
			break
		}
		switch msg.Kind {
		case core.MessageKindRecord:
			page.Rows = append(page.Rows, msg.Record.Data)
			res.Records++
			if len(page.Rows) >= batchSize {
				if err := flush(); err != nil {
					_ = ms.Close()
					req.Sink.StreamFailed(ctx, name, err)
					span.End(err)
					return res, err
				}
			}
		case core.MessageKindState:
			pending = msg.State.State
		case core.MessageKindLog:
			logConnectorMessage(log, msg.Log)
		}
	}

	if err := ms.Err(); err != nil {
		return r.streamError(ctx, req, res, err, span, log)
	}
	if err := flush(); err != nil {
		req.Sink.StreamFailed(ctx, name, err)
		span.End(err)
		return res, err
	}
	if err := req.Sink.StreamComplete(ctx, name); err != nil {
		span.End(err)
		return res, err
	}

	if cs.SyncMode == core.SyncModeIncremental && pending != nil {
		next := state.Advance(prior, pending)
		if err := r.store.Save(ctx, &state.SyncState{
			Connector: string(r.connectorType),
			Stream:    name,
			Cursor:    next,
			Version:   state.SchemaVersion,
		}); err != nil {
			err = errors.Wrap(err, errors.ErrorTypeConnection, "failed to persist sync state").WithDetail("stream", name)
			span.End(err)
			return res, err
		}
		res.State = next
	}
	res.Completed = true
	metrics.StreamsCompleted.WithLabelValues(string(r.connectorType), "completed").Inc()
	span.SetAttribute("records", res.Records)
	span.End(nil)
	log.Info("stream completed", zap.Int64("records", res.Records))
	return res, nil
}

// streamError classifies a read failure. Fatal errors and cancellation abort
// the job; anything else skips the stream.
func (r *ExtractionRunner) streamError(ctx context.Context, req RunRequest, res StreamResult, err error, span *observability.Span, log *zap.Logger) (StreamResult, error) {
	req.Sink.StreamFailed(ctx, res.Stream, err)
	metrics.StreamsCompleted.WithLabelValues(string(r.connectorType), "failed").Inc()

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.IsType(err, errors.ErrorTypeCancelled) {
		err = errors.Wrap(ctxErr, errors.ErrorTypeCancelled, "stream cancelled").WithDetail("stream", res.Stream)
	}
	if base.IsFatal(err) {
		span.End(err)
		log.Error("stream failed, aborting job", zap.Error(err))
		return res, err
	}

	partial := errors.Wrap(err, errors.ErrorTypePartialStream, "stream skipped").WithDetail("stream", res.Stream)
	res.Err = partial
	span.End(partial)
	log.Warn("stream skipped", zap.Error(err))
	return res, nil
}

func (r *ExtractionRunner) checkCancelled(ctx context.Context, tracker JobTracker, jobID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "job cancelled")
	}
	if tracker.IsCancelled(ctx, jobID) {
		return errors.New(errors.ErrorTypeCancelled, "job cancelled").WithDetail("job_id", jobID)
	}
	return nil
}

func logConnectorMessage(log *zap.Logger, m *core.LogMessage) {
	switch m.Level {
	case core.LogLevelDebug:
		log.Debug(m.Message)
	case core.LogLevelWarn:
		log.Warn(m.Message)
	case core.LogLevelError:
		log.Error(m.Message)
	default:
		log.Info(m.Message)
	}
}
