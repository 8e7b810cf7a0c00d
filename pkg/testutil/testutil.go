// Package testutil provides helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// DefaultTimeout bounds Context.
const DefaultTimeout = 30 * time.Second

// Logger returns a logger writing to the test output.
func Logger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Context returns a context cancelled after DefaultTimeout or when the test ends.
func Context(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// RequireEnv returns the value of key or skips the test when it is unset.
// Live backend tests use it so they only run where a backend is provided.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// EnvOr returns the value of key or def.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Eventually fails the test unless condition becomes true within timeout.
func Eventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
