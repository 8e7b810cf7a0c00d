// Package metrics provides Prometheus metrics for nebula-sync.
//
// # Basic Usage
//
//	// Count extracted records
//	metrics.RecordsExtracted.WithLabelValues("linkedin_ads", "ad_analytics").Add(float64(n))
//
//	// Time a destination write
//	timer := metrics.NewTimer()
//	result, err := adapter.WriteBatch(ctx, target, rows)
//	metrics.WriteLatency.WithLabelValues("postgres").Observe(timer.Stop().Seconds())
//
// Metrics are registered on the default registry and served by the CLI when
// --metrics-addr is set.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsExtracted counts records read from a source.
	// Labels: connector, stream
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sync_records_extracted_total",
			Help: "Total number of records extracted from sources",
		},
		[]string{"connector", "stream"},
	)

	// RecordsWritten counts rows accepted or rejected by a destination.
	// Labels: destination, status (written/rejected)
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sync_records_written_total",
			Help: "Total number of rows written to destinations",
		},
		[]string{"destination", "status"},
	)

	// StreamsCompleted counts stream outcomes.
	// Labels: connector, outcome (completed/failed)
	StreamsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sync_streams_total",
			Help: "Number of streams processed by outcome",
		},
		[]string{"connector", "outcome"},
	)

	// RetryAttempts counts retried provider calls.
	// Labels: connector, error_type
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sync_retry_attempts_total",
			Help: "Number of retried provider requests",
		},
		[]string{"connector", "error_type"},
	)

	// JobsTotal counts finished jobs.
	// Labels: status (success/failed/cancelled)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_sync_jobs_total",
			Help: "Number of finished transfer jobs by status",
		},
		[]string{"status"},
	)

	// JobsRunning tracks jobs currently executing.
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_sync_jobs_running",
			Help: "Number of transfer jobs currently running",
		},
	)

	// WriteLatency tracks destination WriteBatch duration in seconds.
	// Labels: destination
	WriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_sync_write_latency_seconds",
			Help:    "Destination batch write latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
		},
		[]string{"destination"},
	)

	// JobDuration tracks end to end job duration in seconds.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nebula_sync_job_duration_seconds",
			Help:    "Transfer job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 9),
		},
	)

	// Throughput tracks records per second of the last measured window.
	// Labels: connector, destination
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_sync_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"connector", "destination"},
	)
)

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer was created. It may be called more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64
	lastReset   time.Time
	connector   string
	destination string
}

// NewThroughputTracker creates a tracker for one connector/destination pair.
func NewThroughputTracker(connector, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		connector:   connector,
		destination: destination,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset computes records per second since the last reset, publishes it
// to the Throughput gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()
	Throughput.WithLabelValues(t.connector, t.destination).Set(throughput)
	return throughput
}
