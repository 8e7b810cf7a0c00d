package pipeline

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
)

// JobEvent is the Kafka payload published on every status transition.
type JobEvent struct {
	JobID     string      `json:"job_id"`
	Status    core.Status `json:"status"`
	Metrics   *JobMetrics `json:"metrics,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// KafkaTracker publishes job events keyed by job id and keeps a local
// MemoryTracker for status lookups and cancellation.
type KafkaTracker struct {
	*MemoryTracker
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaTracker connects a synchronous producer to brokers.
func NewKafkaTracker(brokers []string, topic string) (*KafkaTracker, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka tracker requires brokers and a topic")
	}
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", brokers)
	}
	return NewKafkaTrackerWithProducer(producer, topic), nil
}

// NewKafkaTrackerWithProducer wraps an existing producer.
func NewKafkaTrackerWithProducer(producer sarama.SyncProducer, topic string) *KafkaTracker {
	return &KafkaTracker{
		MemoryTracker: NewMemoryTracker(),
		producer:      producer,
		topic:         topic,
		logger:        logger.Get().With(zap.String("component", "kafka_tracker"), zap.String("topic", topic)),
	}
}

// ProducerConfig returns the sarama settings used for job events.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "nebula-sync"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = false
	return cfg
}

// UpdateStatus records the transition locally, then publishes it.
func (t *KafkaTracker) UpdateStatus(ctx context.Context, jobID string, status core.Status, metrics *JobMetrics, err error) error {
	if uerr := t.MemoryTracker.UpdateStatus(ctx, jobID, status, metrics, err); uerr != nil {
		return uerr
	}

	event := JobEvent{JobID: jobID, Status: status, Metrics: metrics, Timestamp: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
		event.ErrorType = string(errors.TypeOf(err))
	}
	value, merr := jsonpool.Marshal(event)
	if merr != nil {
		return errors.Wrap(merr, errors.ErrorTypeData, "failed to encode job event")
	}

	partition, offset, perr := t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(jobID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("status"), Value: []byte(status)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
		Timestamp: event.Timestamp,
	})
	if perr != nil {
		t.logger.Warn("failed to publish job event", zap.String("job_id", jobID), zap.Error(perr))
		return errors.Wrap(perr, errors.ErrorTypeUnavailable, "failed to publish job event")
	}
	t.logger.Debug("job event published",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer.
func (t *KafkaTracker) Close() error {
	return t.producer.Close()
}
