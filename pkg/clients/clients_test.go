package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

func TestHTTPClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elements":[{"id":1}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, nil)
	var out struct {
		Elements []struct {
			ID int `json:"id"`
		} `json:"elements"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, map[string]string{"X-Test": "v"}, &out))
	require.Len(t, out.Elements, 1)
	assert.Equal(t, 1, out.Elements[0].ID)
}

func TestStatusError_Classification(t *testing.T) {
	tests := []struct {
		status    int
		want      errors.ErrorType
		retryable bool
	}{
		{http.StatusBadRequest, errors.ErrorTypeValidation, false},
		{http.StatusUnauthorized, errors.ErrorTypeAuthentication, false},
		{http.StatusForbidden, errors.ErrorTypePermission, false},
		{http.StatusNotFound, errors.ErrorTypeNotFound, false},
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit, true},
		{http.StatusBadGateway, errors.ErrorTypeUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			cfg := DefaultHTTPConfig()
			cfg.CircuitBreakerEnabled = false
			err := NewHTTPClient(cfg, nil).GetJSON(context.Background(), srv.URL, nil, &struct{}{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want), err.Error())
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, 2*time.Second, e.Details["retry_after"])
		})
	}
}

func TestCircuitBreaker_OpensOnRetryableFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New(errors.ErrorTypeUnavailable, "503") }
	_ = cb.Execute(fail)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(fail)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1}, nil)
	_ = cb.Execute(func() error { return errors.New(errors.ErrorTypeValidation, "400") })
	assert.Equal(t, StateClosed, cb.State())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Equal(t, int64(5), rl.GetStats().AllowedRequests)

	slow := NewRateLimiter(0.001, 1)
	require.NoError(t, slow.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, slow.Wait(ctx))
}

func TestOAuth2Config_Validate(t *testing.T) {
	assert.NoError(t, (&OAuth2Config{AccessToken: "t"}).Validate())
	assert.Error(t, (&OAuth2Config{}).Validate())
	assert.Error(t, (&OAuth2Config{RefreshToken: "r"}).Validate())
	assert.NoError(t, (&OAuth2Config{RefreshToken: "r", ClientID: "id", ClientSecret: "s", TokenURL: "http://x"}).Validate())
}
