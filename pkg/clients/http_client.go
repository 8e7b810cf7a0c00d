// Package clients provides the HTTP client used by API source connectors
package clients

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
)

// maxErrorBody bounds how much of an error response body is kept in the error.
const maxErrorBody = 2048

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Timeouts
	RequestTimeout      time.Duration `json:"request_timeout"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// Connection settings
	MaxIdleConnsPerHost int  `json:"max_idle_conns_per_host"`
	EnableHTTP2         bool `json:"enable_http2"`

	// Rate limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout"`
}

// DefaultHTTPConfig returns defaults suited to third-party marketing APIs
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		RequestTimeout:        30 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   10,
		EnableHTTP2:           true,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		OpenTimeout:           30 * time.Second,
	}
}

// HTTPClient wraps http.Client with rate limiting, a circuit breaker and
// status classification into typed errors.
type HTTPClient struct {
	config         *HTTPConfig
	logger         *zap.Logger
	httpClient     *http.Client
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker

	totalRequests  int64
	failedRequests int64
}

// NewHTTPClient creates a client with its own transport.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http_client"))

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return NewHTTPClientWithTransport(config, transport, logger)
}

// NewHTTPClientWithTransport creates a client on top of an existing round tripper,
// typically an oauth2 transport.
func NewHTTPClientWithTransport(config *HTTPConfig, rt http.RoundTripper, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &HTTPClient{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   config.RequestTimeout,
		},
		rateLimiter: NewRateLimiter(config.RateLimit, config.RateBurst),
	}
	if config.CircuitBreakerEnabled {
		c.circuitBreaker = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: config.FailureThreshold,
			Timeout:          config.OpenTimeout,
		}, logger)
	}
	return c
}

// Do sends req and returns the response body of a 2xx answer. Non-2xx
// statuses become typed errors via StatusError.
func (c *HTTPClient) Do(req *http.Request) ([]byte, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	var body []byte
	call := func() error {
		atomic.AddInt64(&c.totalRequests, 1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return classifyTransportError(req.Context(), err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "failed to read response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			atomic.AddInt64(&c.failedRequests, 1)
			return StatusError(resp, data)
		}
		body = data
		return nil
	}

	var err error
	if c.circuitBreaker != nil {
		err = c.circuitBreaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err))
		return nil, err
	}
	return body, nil
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	body, err := c.Do(req)
	if err != nil {
		return err
	}
	if err := jsonpool.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	return nil
}

// Stats returns request counters.
func (c *HTTPClient) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"total_requests":  atomic.LoadInt64(&c.totalRequests),
		"failed_requests": atomic.LoadInt64(&c.failedRequests),
		"rate_limiter":    c.rateLimiter.GetStats(),
	}
	if c.circuitBreaker != nil {
		stats["circuit_breaker_state"] = c.circuitBreaker.State().String()
	}
	return stats
}

// StatusError converts a non-2xx response into a typed error:
// 401 authentication (fatal), 403 permission, 400/422 validation, 404 not found,
// 429 rate limit, 5xx unavailable. A Retry-After header is kept as the
// "retry_after" detail.
func StatusError(resp *http.Response, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	msg := fmt.Sprintf("%s %s returned %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	var errType errors.ErrorType
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		errType = errors.ErrorTypeAuthentication
	case resp.StatusCode == http.StatusForbidden:
		errType = errors.ErrorTypePermission
	case resp.StatusCode == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case resp.StatusCode == http.StatusRequestTimeout:
		errType = errors.ErrorTypeTimeout
	case resp.StatusCode >= 500:
		errType = errors.ErrorTypeUnavailable
	default:
		errType = errors.ErrorTypeValidation
	}

	e := errors.New(errType, msg).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", string(body))
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		e = e.WithDetail("retry_after", d)
	}
	return e
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, errors.ErrorTypeCancelled, "request cancelled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}
