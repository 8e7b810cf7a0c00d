package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
	"github.com/ajitpratap0/nebula-sync/pkg/schema"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

// StreamLoad summarizes what was loaded for one stream.
type StreamLoad struct {
	Stream      string `json:"stream"`
	Target      string `json:"target"`
	Location    string `json:"location,omitempty"`
	Transformed int64  `json:"transformed"`
	Loaded      int64  `json:"loaded"`
	Failed      int64  `json:"failed"`
	Batches     int    `json:"batches"`
}

// TargetSchema is the schema a target was written with during a job.
type TargetSchema struct {
	Target      string       `json:"target"`
	Fingerprint string       `json:"fingerprint"`
	Batches     int          `json:"batches"`
	Fields      []core.Field `json:"fields"`
}

// destinationSink buffers each stream in memory and loads it into its target
// once the stream completes: per write batch it infers a schema, reconciles it
// with the target's established schema, cleans the rows against the
// established schema and writes them.
type destinationSink struct {
	adapter    core.DestinationAdapter
	desc       *core.DestinationDescriptor
	syncCfg    config.SyncConfig
	inferencer *schema.Inferencer
	cleaner    *schema.Cleaner
	registry   *schema.Registry
	cancelled  func(ctx context.Context) error
	logger     *zap.Logger
	throughput *metrics.ThroughputTracker

	mu      sync.Mutex
	targets map[string]string
	buffers map[string][]core.Row
	loads   map[string]*StreamLoad

	closeOnce sync.Once
	closeErr  error

	transformed atomic.Int64
	loaded      atomic.Int64
	failed      atomic.Int64
}

func newDestinationSink(adapter core.DestinationAdapter, desc *core.DestinationDescriptor, syncCfg config.SyncConfig, connector core.ConnectorType, cancelled func(context.Context) error, log *zap.Logger) *destinationSink {
	return &destinationSink{
		adapter:    adapter,
		desc:       desc,
		syncCfg:    syncCfg,
		inferencer: schema.NewInferencer(log, syncCfg.Performance.SampleSize),
		cleaner:    schema.NewCleaner(),
		registry:   schema.NewRegistry(log),
		cancelled:  cancelled,
		logger:     log,
		throughput: metrics.NewThroughputTracker(string(connector), string(desc.Type)),
		targets:    make(map[string]string),
		buffers:    make(map[string][]core.Row),
		loads:      make(map[string]*StreamLoad),
	}
}

// TargetName returns the explicit table name when one stream is synced and
// the descriptor names a table, otherwise the sanitized <prefix>_<stream>.
func TargetName(desc *core.DestinationDescriptor, stream string, streamCount int) string {
	if desc.TableName != "" && streamCount == 1 {
		return desc.TableName
	}
	return stringpool.TableName(desc.TablePrefix, stream)
}

func (s *destinationSink) Begin(ctx context.Context, streams []core.ConfiguredStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]string, len(streams))
	for _, cs := range streams {
		target := TargetName(s.desc, cs.Name(), len(streams))
		if other, dup := seen[target]; dup {
			return errors.Newf(errors.ErrorTypeValidation, "streams %q and %q map to the same target %q", other, cs.Name(), target)
		}
		seen[target] = cs.Name()
		s.targets[cs.Name()] = target
		s.loads[cs.Name()] = &StreamLoad{Stream: cs.Name(), Target: target}
	}
	return nil
}

func (s *destinationSink) Records(ctx context.Context, stream string, rows []core.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.syncCfg.Performance.MaxBufferedRecords
	buffered := len(s.buffers[stream]) + len(rows)
	if limit > 0 && buffered > limit {
		delete(s.buffers, stream)
		return errors.Newf(errors.ErrorTypeTransfer, "stream %s exceeds the buffer limit of %d records", stream, limit).
			WithDetail("stream", stream).
			WithDetail("max_buffered_records", limit)
	}
	s.buffers[stream] = append(s.buffers[stream], rows...)
	return nil
}

func (s *destinationSink) StreamFailed(ctx context.Context, stream string, err error) {
	s.mu.Lock()
	n := len(s.buffers[stream])
	delete(s.buffers, stream)
	s.mu.Unlock()
	if n > 0 {
		s.logger.Warn("discarded buffered records", zap.String("stream", stream), zap.Int("records", n), zap.Error(err))
	}
}

func (s *destinationSink) StreamComplete(ctx context.Context, stream string) error {
	s.mu.Lock()
	rows := s.buffers[stream]
	delete(s.buffers, stream)
	target := s.targets[stream]
	load := s.loads[stream]
	s.mu.Unlock()

	log := s.logger.With(zap.String("stream", stream), zap.String("target", target))
	if len(rows) == 0 {
		log.Info("stream produced no records, target left untouched")
		return nil
	}

	batchSize := s.syncCfg.Performance.BatchSize
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.writeBatch(ctx, target, rows[start:end], load); err != nil {
			return err
		}
		if err := s.cancelled(ctx); err != nil {
			return err
		}
	}
	load.Location = s.adapter.Location(target)
	log.Info("stream loaded", zap.Int64("loaded", load.Loaded), zap.Int64("failed", load.Failed), zap.String("location", load.Location))
	return nil
}

func (s *destinationSink) writeBatch(ctx context.Context, target string, rows []core.Row, load *StreamLoad) error {
	inferred := nullable(s.inferencer.Infer(target, rows))
	established, first, err := s.registry.Reconcile(target, inferred)
	if err != nil {
		return err
	}
	cleaned := s.cleaner.Clean(established, rows)
	s.transformed.Add(int64(len(cleaned)))
	load.Transformed += int64(len(cleaned))

	if first {
		if err := s.adapter.EnsureTarget(ctx, target, established, s.desc.EffectivePolicy()); err != nil {
			return err
		}
	}

	timer := metrics.NewTimer()
	result, err := s.adapter.WriteBatch(ctx, target, cleaned)
	metrics.WriteLatency.WithLabelValues(string(s.desc.Type)).Observe(timer.Stop().Seconds())
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeTransfer) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeTransfer, "destination write failed").WithDetail("target", target)
	}

	rejected := int64(len(result.Errors))
	s.loaded.Add(result.RowsWritten)
	s.failed.Add(rejected)
	load.Loaded += result.RowsWritten
	load.Failed += rejected
	load.Batches++
	s.throughput.Increment(result.RowsWritten)
	metrics.RecordsWritten.WithLabelValues(string(s.desc.Type), "written").Add(float64(result.RowsWritten))
	if rejected > 0 {
		metrics.RecordsWritten.WithLabelValues(string(s.desc.Type), "rejected").Add(float64(rejected))
		s.logger.Warn("destination rejected rows",
			zap.String("target", target),
			zap.Int64("rejected", rejected),
			zap.String("first_error", result.Errors[0].Message))
	}
	return nil
}

func (s *destinationSink) Finish(ctx context.Context) error {
	s.throughput.GetAndReset()
	return s.close(ctx)
}

// close finalizes the adapter once.
func (s *destinationSink) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.adapter.Close(ctx); err != nil {
			s.closeErr = errors.Wrap(err, errors.ErrorTypeTransfer, "failed to finalize destination")
		}
	})
	return s.closeErr
}

func (s *destinationSink) JobMetrics() JobMetrics {
	return JobMetrics{
		RecordsTransformed: s.transformed.Load(),
		RecordsLoaded:      s.loaded.Load(),
		RecordsFailed:      s.failed.Load(),
	}
}

// Schemas returns the established schema of every written target, sorted by target.
func (s *destinationSink) Schemas() []TargetSchema {
	subjects := s.registry.Subjects()
	out := make([]TargetSchema, 0, len(subjects))
	for _, target := range subjects {
		if e, ok := s.registry.Get(target); ok {
			out = append(out, TargetSchema{
				Target:      target,
				Fingerprint: e.Fingerprint,
				Batches:     e.Batches,
				Fields:      e.Schema.Fields,
			})
		}
	}
	return out
}

// Loads returns the per-stream load summaries in stream order of Begin.
func (s *destinationSink) Loads(order []string) []StreamLoad {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamLoad, 0, len(order))
	for _, name := range order {
		if l, ok := s.loads[name]; ok {
			out = append(out, *l)
		}
	}
	return out
}

// nullable marks every field nullable; later batches may lack values that
// the first batch had.
func nullable(s *core.Schema) *core.Schema {
	out := &core.Schema{Name: s.Name, Fields: make([]core.Field, len(s.Fields))}
	for i, f := range s.Fields {
		f.Nullable = true
		out.Fields[i] = f
	}
	return out
}
