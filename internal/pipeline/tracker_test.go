package pipeline

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
)

func TestMemoryTrackerTerminalStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	require.NoError(t, tr.UpdateStatus(ctx, "job-1", core.StatusRunning, nil, nil))
	require.NoError(t, tr.UpdateStatus(ctx, "job-1", core.StatusFailed, &JobMetrics{RecordsExtracted: 4},
		errors.New(errors.ErrorTypeTransfer, "disk full")))

	err := tr.UpdateStatus(ctx, "job-1", core.StatusSuccess, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	rec, ok := tr.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, core.StatusFailed, rec.Status)
	assert.Equal(t, []core.Status{core.StatusRunning, core.StatusFailed}, rec.History)
	assert.Equal(t, "transfer", rec.ErrorType)
	assert.Equal(t, int64(4), rec.Metrics.RecordsExtracted)
}

func TestMemoryTrackerCancel(t *testing.T) {
	tr := NewMemoryTracker()
	assert.False(t, tr.IsCancelled(context.Background(), "job-1"))
	tr.Cancel("job-1")
	assert.True(t, tr.IsCancelled(context.Background(), "job-1"))
	assert.False(t, tr.IsCancelled(context.Background(), "job-2"))

	_, ok := tr.Get("job-1")
	assert.False(t, ok)
}

func TestKafkaTrackerPublishesEvents(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev JobEvent
		if err := jsonpool.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.JobID != "job-7" || ev.Status != core.StatusRunning {
			return stderrors.New("unexpected running event")
		}
		return nil
	})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev JobEvent
		if err := jsonpool.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Status != core.StatusSuccess || ev.Metrics == nil || ev.Metrics.RecordsLoaded != 12 {
			return stderrors.New("unexpected success event")
		}
		return nil
	})

	tr := NewKafkaTrackerWithProducer(producer, "nebula-sync.jobs")
	ctx := context.Background()
	require.NoError(t, tr.UpdateStatus(ctx, "job-7", core.StatusRunning, nil, nil))
	require.NoError(t, tr.UpdateStatus(ctx, "job-7", core.StatusSuccess, &JobMetrics{RecordsLoaded: 12}, nil))

	rec, ok := tr.Get("job-7")
	require.True(t, ok)
	assert.Equal(t, core.StatusSuccess, rec.Status)
	require.NoError(t, tr.Close())
}

func TestKafkaTrackerSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	tr := NewKafkaTrackerWithProducer(producer, "nebula-sync.jobs")
	err := tr.UpdateStatus(context.Background(), "job-8", core.StatusRunning, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))

	// the local record is kept even when publishing fails
	rec, ok := tr.Get("job-8")
	require.True(t, ok)
	assert.Equal(t, core.StatusRunning, rec.Status)
	require.NoError(t, tr.Close())
}

func TestNewKafkaTrackerRequiresBrokers(t *testing.T) {
	_, err := NewKafkaTracker(nil, "jobs")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
