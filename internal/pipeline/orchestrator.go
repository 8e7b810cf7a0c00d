// Package pipeline runs transfer jobs: a connector's streams are extracted
// by an ExtractionRunner, buffered per stream, cleaned against an inferred
// schema and loaded into a destination adapter.
//
// # Basic Usage
//
//	orch := pipeline.NewTransferOrchestrator(registry, store, tracker, syncCfg)
//	summary, err := orch.Run(ctx, pipeline.TransferRequest{
//	    Source:      &sourceCfg,
//	    Destination: &destDesc,
//	})
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
	"github.com/ajitpratap0/nebula-sync/pkg/observability"
	"github.com/ajitpratap0/nebula-sync/pkg/state"
)

// AdapterFactory resolves a destination descriptor to an adapter.
type AdapterFactory func(ctx context.Context, desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (core.DestinationAdapter, error)

// TransferRequest describes one job.
type TransferRequest struct {
	// JobID is generated when empty
	JobID       string
	Source      *core.ConnectorConfig
	Destination *core.DestinationDescriptor
}

// Summary is the outcome of a transfer job.
type Summary struct {
	JobID              string         `json:"job_id"`
	Status             core.Status    `json:"status"`
	Connector          string         `json:"connector"`
	Destination        string         `json:"destination"`
	RecordsExtracted   int64          `json:"records_extracted"`
	RecordsTransformed int64          `json:"records_transformed"`
	RecordsLoaded      int64          `json:"records_loaded"`
	RecordsFailed      int64          `json:"records_failed"`
	Streams            []StreamLoad   `json:"streams"`
	Schemas            []TargetSchema `json:"schemas,omitempty"`
	Errors             []string       `json:"errors,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	Duration           time.Duration  `json:"duration"`
}

// TransferOrchestrator wires a source connector to a destination adapter.
type TransferOrchestrator struct {
	registry   *registry.Registry
	store      state.Store
	tracker    JobTracker
	syncCfg    config.SyncConfig
	newAdapter AdapterFactory
	logger     *zap.Logger
}

// NewTransferOrchestrator creates an orchestrator. A nil store keeps state
// in memory and a nil tracker ignores status updates.
func NewTransferOrchestrator(reg *registry.Registry, store state.Store, tracker JobTracker, syncCfg config.SyncConfig) *TransferOrchestrator {
	if store == nil {
		store = state.NewMemoryStore()
	}
	if tracker == nil {
		tracker = NopTracker{}
	}
	return &TransferOrchestrator{
		registry:   reg,
		store:      store,
		tracker:    tracker,
		syncCfg:    syncCfg,
		newAdapter: destinations.New,
		logger:     logger.Get().With(zap.String("component", "transfer_orchestrator")),
	}
}

// WithAdapterFactory replaces the destination factory.
func (o *TransferOrchestrator) WithAdapterFactory(f AdapterFactory) *TransferOrchestrator {
	o.newAdapter = f
	return o
}

// Run executes a transfer job and returns its summary. The summary is
// returned even when the job fails; err is the job-level error.
func (o *TransferOrchestrator) Run(ctx context.Context, req TransferRequest) (*Summary, error) {
	if req.Source == nil || req.Destination == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "transfer requires a source and a destination")
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if o.syncCfg.Timeouts.Job > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.syncCfg.Timeouts.Job)
		defer cancel()
	}

	ctx = logger.WithJobID(ctx, jobID)
	ctx = logger.WithConnector(ctx, string(req.Source.Type))
	log := o.logger.With(zap.String("job_id", jobID), zap.String("connector", string(req.Source.Type)), zap.String("destination", string(req.Destination.Type)))
	ctx, span := observability.StartJob(ctx, jobID, string(req.Source.Type), string(req.Destination.Type))

	summary := &Summary{
		JobID:       jobID,
		Connector:   string(req.Source.Type),
		Destination: string(req.Destination.Type),
		StartedAt:   time.Now().UTC(),
	}
	timer := metrics.NewTimer()

	err := o.run(ctx, jobID, req, summary, log)
	summary.Duration = timer.Stop()
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	if summary.Status == "" {
		summary.Status = core.StatusFailed
		if errors.IsType(err, errors.ErrorTypeCancelled) {
			summary.Status = core.StatusCancelled
		}
		if uerr := o.tracker.UpdateStatus(context.WithoutCancel(ctx), jobID, summary.Status, nil, err); uerr != nil {
			log.Warn("failed to report job status", zap.Error(uerr))
		}
	}

	metrics.JobsTotal.WithLabelValues(string(summary.Status)).Inc()
	metrics.JobDuration.Observe(summary.Duration.Seconds())
	span.SetAttribute("records_loaded", summary.RecordsLoaded)
	span.End(err)
	log.Info("transfer finished",
		zap.String("status", string(summary.Status)),
		zap.Int64("extracted", summary.RecordsExtracted),
		zap.Int64("loaded", summary.RecordsLoaded),
		zap.Int64("failed", summary.RecordsFailed),
		zap.Duration("duration", summary.Duration))
	return summary, err
}

// run leaves summary.Status empty when the job failed before extraction started.
func (o *TransferOrchestrator) run(ctx context.Context, jobID string, req TransferRequest, summary *Summary, log *zap.Logger) error {
	if err := req.Destination.Validate(); err != nil {
		return err
	}
	inst, err := o.registry.Create(req.Source, o.syncCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := o.registry.Release(inst.Key); err != nil {
			log.Warn("failed to release connector", zap.Error(err))
		}
	}()

	adapter, err := o.newAdapter(ctx, req.Destination, o.syncCfg)
	if err != nil {
		return err
	}
	if err := adapter.TestConnection(ctx); err != nil {
		_ = adapter.Close(ctx)
		var e *errors.Error
		if !errors.As(err, &e) {
			err = errors.Wrap(err, errors.ErrorTypeConnection, "destination connection test failed")
		}
		return err
	}

	cancelled := func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "job cancelled")
		}
		if o.tracker.IsCancelled(ctx, jobID) {
			return errors.New(errors.ErrorTypeCancelled, "job cancelled").WithDetail("job_id", jobID)
		}
		return nil
	}
	sink := newDestinationSink(adapter, req.Destination, o.syncCfg, inst.Type, cancelled, log)
	defer func() {
		if err := sink.close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to close destination", zap.Error(err))
		}
	}()

	runner := NewExtractionRunner(inst.Connector, o.store, o.syncCfg)
	result, runErr := runner.Run(ctx, RunRequest{
		JobID:     jobID,
		Streams:   req.Source.Streams,
		SyncModes: req.Source.SyncModes,
		Sink:      sink,
		Tracker:   o.tracker,
	})
	if result == nil {
		return runErr
	}

	jm := sink.JobMetrics()
	summary.Status = result.Status
	summary.RecordsExtracted = result.Extracted()
	summary.RecordsTransformed = jm.RecordsTransformed
	summary.RecordsLoaded = jm.RecordsLoaded
	summary.RecordsFailed = jm.RecordsFailed

	order := make([]string, len(result.Streams))
	for i, s := range result.Streams {
		order[i] = s.Stream
	}
	summary.Streams = sink.Loads(order)
	summary.Schemas = sink.Schemas()
	for _, e := range result.Errors {
		if e != runErr {
			summary.Errors = append(summary.Errors, e.Error())
		}
	}
	return runErr
}
