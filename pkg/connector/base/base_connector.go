// Package base provides BaseConnector, the shared plumbing embedded by every
// source connector: configuration validation, a rate limited HTTP client,
// bounded retries for provider calls and error accounting.
//
// # Usage
//
//	type MySource struct {
//	    *base.BaseConnector
//	}
//
//	func New(cfg *core.ConnectorConfig, sync config.SyncConfig) (core.SourceConnector, error) {
//	    b, err := base.NewBaseConnector(core.ConnectorTypeSample, "1.0.0", cfg, sync, mySpec)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &MySource{BaseConnector: b}, nil
//	}
//
// NewBaseConnector validates the configuration against the connection
// specification before any network call is made.
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/clients"
	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
)

// BaseConnector implements the parts of core.SourceConnector every connector shares.
type BaseConnector struct {
	connectorType core.ConnectorType
	version       string
	config        *core.ConnectorConfig
	sync          config.SyncConfig
	spec          core.ConnectionSpec
	logger        *zap.Logger

	httpClient   *clients.HTTPClient
	retryPolicy  *RetryPolicy
	errorHandler *ErrorHandler

	mu     sync.Mutex
	closed bool
}

// NewBaseConnector validates cfg against spec and builds the shared plumbing.
// A missing required credential fails here with a validation error.
func NewBaseConnector(connectorType core.ConnectorType, version string, cfg *core.ConnectorConfig, syncCfg config.SyncConfig, spec core.ConnectionSpec) (*BaseConnector, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "connector config is required")
	}
	if cfg.Type != connectorType {
		return nil, errors.Newf(errors.ErrorTypeValidation, "config type %q does not match connector %q", cfg.Type, connectorType)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(cfg); err != nil {
		return nil, err
	}

	log := logger.Get().With(zap.String("connector", string(connectorType)))
	if cfg.InstanceID != "" {
		log = log.With(zap.String("instance_id", cfg.InstanceID))
	}

	rel := syncCfg.Reliability
	policy := NoRetryPolicy()
	if rel.RetryAttempts > 1 {
		policy = NewRetryPolicy(rel.RetryAttempts, rel.RetryDelay)
		if rel.RetryMultiplier >= 1 {
			policy = policy.WithMultiplier(rel.RetryMultiplier)
		}
		if rel.MaxRetryDelay > 0 {
			policy = policy.WithDelay(rel.RetryDelay, rel.MaxRetryDelay)
		}
	}
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RetryAttempts.WithLabelValues(string(connectorType), string(errors.TypeOf(err))).Inc()
		log.Warn("retrying provider request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	httpCfg := clients.DefaultHTTPConfig()
	if syncCfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = syncCfg.Timeouts.Request
	}
	httpCfg.RateLimit = rel.RateLimitPerSec
	httpCfg.RateBurst = int(rel.RateLimitPerSec * 2)

	return &BaseConnector{
		connectorType: connectorType,
		version:       version,
		config:        cfg,
		sync:          syncCfg,
		spec:          spec,
		logger:        log,
		httpClient:    clients.NewHTTPClient(httpCfg, log),
		retryPolicy:   policy,
		errorHandler:  NewErrorHandler(log),
	}, nil
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Spec returns the connection specification
func (bc *BaseConnector) Spec() core.ConnectionSpec {
	return bc.spec
}

// Config returns the connector configuration
func (bc *BaseConnector) Config() *core.ConnectorConfig {
	return bc.config
}

// SyncConfig returns the engine tuning
func (bc *BaseConnector) SyncConfig() config.SyncConfig {
	return bc.sync
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// HTTPClient returns the shared HTTP client
func (bc *BaseConnector) HTTPClient() *clients.HTTPClient {
	return bc.httpClient
}

// SetHTTPClient replaces the HTTP client, e.g. with one using an oauth2 transport.
func (bc *BaseConnector) SetHTTPClient(c *clients.HTTPClient) {
	bc.httpClient = c
}

// ExecuteWithRetry runs fn with bounded backoff. Only rate limit, 5xx and
// timeout errors are retried. The final error is recorded by the error handler.
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	if err := bc.retryPolicy.Execute(ctx, fn); err != nil {
		return bc.errorHandler.HandleError(err)
	}
	return nil
}

// CheckClosed returns an error once Close has been called.
func (bc *BaseConnector) CheckClosed() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return errors.Newf(errors.ErrorTypeInternal, "%s connector is closed", bc.connectorType)
	}
	return nil
}

// Close marks the connector closed. Safe to call more than once.
func (bc *BaseConnector) Close() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return nil
	}
	bc.closed = true
	bc.logger.Debug("connector closed", zap.Any("errors", bc.errorHandler.GetErrorStats()))
	return nil
}
