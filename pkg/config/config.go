package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
)

// JobConfig is the complete description of one transfer job.
type JobConfig struct {
	// Name identifies the job in logs and metrics
	Name string `yaml:"name" json:"name"`

	// Source is the connector to extract from
	Source core.ConnectorConfig `yaml:"source" json:"source"`

	// Destination is the adapter to load into
	Destination core.DestinationDescriptor `yaml:"destination" json:"destination"`

	// Sync tunes extraction and loading
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// State selects the sync state backend
	State StateConfig `yaml:"state" json:"state"`

	// Logging configures the global logger
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Observability configures metrics, tracing and status events
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SyncConfig groups the engine tuning sections.
type SyncConfig struct {
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
}

// PerformanceConfig controls batching and buffering.
type PerformanceConfig struct {
	// BatchSize is the number of records per destination write
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// SampleSize bounds the records used for schema inference per batch
	SampleSize int `yaml:"sample_size" json:"sample_size"`
	// MaxBufferedRecords bounds the records held in memory for one stream
	MaxBufferedRecords int `yaml:"max_buffered_records" json:"max_buffered_records"`
	// MaxConcurrentStreams is the number of streams extracted at once (1 = sequential)
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`
}

// TimeoutConfig bounds blocking operations.
type TimeoutConfig struct {
	// Request bounds a single provider API call
	Request time.Duration `yaml:"request" json:"request"`
	// Job bounds the whole transfer job (0 = unbounded)
	Job time.Duration `yaml:"job" json:"job"`
	// QueryWait bounds polling of asynchronous query execution
	QueryWait time.Duration `yaml:"query_wait" json:"query_wait"`
	// QueryPollInterval is the delay between query status polls
	QueryPollInterval time.Duration `yaml:"query_poll_interval" json:"query_poll_interval"`
}

// ReliabilityConfig controls retry and rate limiting of provider calls.
type ReliabilityConfig struct {
	// RetryAttempts is the maximum number of attempts per request
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier grows the delay after each attempt
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps a single backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RateLimitPerSec limits provider requests per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// StateConfig selects where sync cursors are persisted.
type StateConfig struct {
	// Backend is one of memory, postgres, mongo
	Backend string `yaml:"backend" json:"backend"`
	// DSN is the connection string of the postgres or mongo backend
	DSN string `yaml:"dsn" json:"-"`
	// Table is the postgres table holding cursors
	Table string `yaml:"table" json:"table"`
	// Database and Collection locate the mongo collection holding cursors
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// ObservabilityConfig enables metrics, tracing and job status events.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing exports job and stream spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// KafkaBrokers publishes job status events when non-empty
	KafkaBrokers []string `yaml:"kafka_brokers" json:"kafka_brokers"`
	// KafkaTopic is the status event topic
	KafkaTopic string `yaml:"kafka_topic" json:"kafka_topic"`
}

// NewSyncConfig returns the default tuning.
func NewSyncConfig() SyncConfig {
	return SyncConfig{
		Performance: PerformanceConfig{
			BatchSize:            1000,
			SampleSize:           100,
			MaxBufferedRecords:   1_000_000,
			MaxConcurrentStreams: 1,
		},
		Timeouts: TimeoutConfig{
			Request:           30 * time.Second,
			QueryWait:         300 * time.Second,
			QueryPollInterval: time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
		},
	}
}

// NewJobConfig returns a job configuration with every default applied.
func NewJobConfig(name string) *JobConfig {
	return &JobConfig{
		Name:    name,
		Sync:    NewSyncConfig(),
		State:   StateConfig{Backend: "memory", Table: "sync_state", Database: "nebula_sync", Collection: "sync_state"},
		Logging: logger.Config{Level: "info", Encoding: "json"},
		Observability: ObservabilityConfig{
			KafkaTopic: "nebula-sync.jobs",
		},
	}
}

// Validate checks ranges. It performs no I/O.
func (s *SyncConfig) Validate() error {
	if s.Performance.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeValidation, "batch_size must be positive")
	}
	if s.Performance.SampleSize <= 0 {
		return errors.New(errors.ErrorTypeValidation, "sample_size must be positive")
	}
	if s.Performance.MaxBufferedRecords <= 0 {
		return errors.New(errors.ErrorTypeValidation, "max_buffered_records must be positive")
	}
	if s.Performance.MaxConcurrentStreams <= 0 {
		return errors.New(errors.ErrorTypeValidation, "max_concurrent_streams must be positive")
	}
	if s.Reliability.RetryAttempts < 1 {
		return errors.New(errors.ErrorTypeValidation, "retry_attempts must be at least 1")
	}
	if s.Reliability.RetryMultiplier < 1 {
		return errors.New(errors.ErrorTypeValidation, "retry_multiplier must be at least 1")
	}
	if s.Reliability.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeValidation, "rate_limit_per_sec cannot be negative")
	}
	if s.Timeouts.Request <= 0 {
		return errors.New(errors.ErrorTypeValidation, "request timeout must be positive")
	}
	return nil
}

// Validate checks the whole job, rejecting unknown connector and destination
// types before anything runs.
func (c *JobConfig) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "name is required")
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Destination.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	switch c.State.Backend {
	case "", "memory":
	case "postgres", "mongo":
		if c.State.DSN == "" {
			return errors.Newf(errors.ErrorTypeValidation, "state.dsn is required for the %s backend", c.State.Backend)
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown state backend %q", c.State.Backend)
	}
	return nil
}

// String summarizes the job without credentials.
func (c *JobConfig) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Name, c.Source.Type, c.Destination.Type)
}
