package base

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// ShouldRetry reports whether a provider call failing with err may be retried.
// Only throttling, server-side unavailability and timeouts qualify; validation,
// authentication and permission failures never do.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	switch errors.TypeOf(err) {
	case errors.ErrorTypeRateLimit, errors.ErrorTypeUnavailable, errors.ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must abort the whole job rather than a single stream.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, t := range []errors.ErrorType{
		errors.ErrorTypeAuthentication,
		errors.ErrorTypeConnection,
		errors.ErrorTypeValidation,
		errors.ErrorTypeConfig,
		errors.ErrorTypeCancelled,
	} {
		if errors.IsType(err, t) {
			return true
		}
	}
	return false
}

// ErrorHandler counts and logs connector errors by type
type ErrorHandler struct {
	logger *zap.Logger

	mu          sync.RWMutex
	errorCounts map[errors.ErrorType]int64

	totalErrors   int64
	retriedErrors int64
	fatalErrors   int64
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:      logger,
		errorCounts: make(map[errors.ErrorType]int64),
	}
}

// HandleError records err and returns it unchanged.
func (eh *ErrorHandler) HandleError(err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	atomic.AddInt64(&eh.totalErrors, 1)

	errType := errors.TypeOf(err)
	eh.mu.Lock()
	eh.errorCounts[errType]++
	eh.mu.Unlock()

	fields = append(fields, zap.Error(err), zap.String("error_type", string(errType)))
	switch {
	case IsFatal(err):
		atomic.AddInt64(&eh.fatalErrors, 1)
		eh.logger.Error("fatal connector error", fields...)
	case ShouldRetry(err):
		atomic.AddInt64(&eh.retriedErrors, 1)
		eh.logger.Warn("retryable connector error", fields...)
	default:
		eh.logger.Warn("connector error", fields...)
	}
	return err
}

// GetErrorStats returns error statistics
func (eh *ErrorHandler) GetErrorStats() map[string]interface{} {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	byType := make(map[string]int64, len(eh.errorCounts))
	for k, v := range eh.errorCounts {
		byType[string(k)] = v
	}
	return map[string]interface{}{
		"total_errors":   atomic.LoadInt64(&eh.totalErrors),
		"retried_errors": atomic.LoadInt64(&eh.retriedErrors),
		"fatal_errors":   atomic.LoadInt64(&eh.fatalErrors),
		"errors_by_type": byType,
	}
}
