package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// JobMetrics are the counters reported with every job status update.
type JobMetrics struct {
	RecordsExtracted   int64 `json:"records_extracted"`
	RecordsTransformed int64 `json:"records_transformed"`
	RecordsLoaded      int64 `json:"records_loaded"`
	RecordsFailed      int64 `json:"records_failed"`
	StreamsCompleted   int   `json:"streams_completed"`
	StreamsFailed      int   `json:"streams_failed"`
}

// JobTracker receives job status transitions and answers cancellation polls.
type JobTracker interface {
	UpdateStatus(ctx context.Context, jobID string, status core.Status, metrics *JobMetrics, err error) error
	IsCancelled(ctx context.Context, jobID string) bool
}

// JobRecord is the last reported status of a job.
type JobRecord struct {
	JobID     string      `json:"job_id"`
	Status    core.Status `json:"status"`
	Metrics   *JobMetrics `json:"metrics,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
	// History lists every status reported, oldest first
	History []core.Status `json:"history"`
}

// MemoryTracker keeps job records in memory. Cancel marks a job so the
// running transfer stops at its next batch boundary.
type MemoryTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*JobRecord
	cancelled map[string]bool
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		jobs:      make(map[string]*JobRecord),
		cancelled: make(map[string]bool),
	}
}

// UpdateStatus records a transition. A job already in a terminal state cannot
// change again.
func (t *MemoryTracker) UpdateStatus(ctx context.Context, jobID string, status core.Status, metrics *JobMetrics, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.jobs[jobID]
	if !ok {
		rec = &JobRecord{JobID: jobID}
		t.jobs[jobID] = rec
	}
	if rec.Status.Terminal() {
		return errors.Newf(errors.ErrorTypeValidation, "job %s already finished with status %s", jobID, rec.Status)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	rec.History = append(rec.History, status)
	if metrics != nil {
		m := *metrics
		rec.Metrics = &m
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorType = string(errors.TypeOf(err))
	}
	return nil
}

// IsCancelled reports whether Cancel was called for jobID.
func (t *MemoryTracker) IsCancelled(ctx context.Context, jobID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelled[jobID]
}

// Cancel requests cancellation of jobID.
func (t *MemoryTracker) Cancel(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled[jobID] = true
}

// Get returns a copy of the record of jobID.
func (t *MemoryTracker) Get(jobID string) (JobRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.jobs[jobID]
	if !ok {
		return JobRecord{}, false
	}
	cp := *rec
	cp.History = append([]core.Status(nil), rec.History...)
	return cp, true
}

// NopTracker ignores updates and never cancels.
type NopTracker struct{}

func (NopTracker) UpdateStatus(context.Context, string, core.Status, *JobMetrics, error) error {
	return nil
}

func (NopTracker) IsCancelled(context.Context, string) bool { return false }
