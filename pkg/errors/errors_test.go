package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := New(ErrorTypeValidation, "client_id is required").WithDetail("connector", "linkedin_ads")
	assert.Equal(t, "validation: client_id is required", err.Error())
	assert.Equal(t, "linkedin_ads", err.Details["connector"])

	wrapped := Wrap(io.EOF, ErrorTypeConnection, "read failed")
	assert.Equal(t, "connection: read failed: EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.EOF)
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeTransfer, "nothing"))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", New(ErrorTypeRateLimit, "429"), true},
		{"unavailable", New(ErrorTypeUnavailable, "503"), true},
		{"validation", New(ErrorTypeValidation, "bad"), false},
		{"schema conflict", New(ErrorTypeSchemaConflict, "bad"), false},
		{"override", New(ErrorTypeConnection, "auth").WithRetryable(false), false},
		{"plain error", fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsType_WalksChain(t *testing.T) {
	inner := New(ErrorTypeRateLimit, "throttled")
	outer := Wrap(inner, ErrorTypePartialStream, "stream skipped")

	assert.True(t, IsType(outer, ErrorTypePartialStream))
	assert.True(t, IsType(outer, ErrorTypeRateLimit))
	assert.False(t, IsType(outer, ErrorTypeTransfer))
	assert.Equal(t, ErrorTypePartialStream, TypeOf(outer))
	assert.Equal(t, ErrorTypeInternal, TypeOf(io.EOF))
}

func TestAppendAndFlatten(t *testing.T) {
	var list error
	list = Append(list, nil)
	assert.NoError(t, list)

	list = Append(list, New(ErrorTypeRateLimit, "a"))
	list = Append(list, New(ErrorTypeTransfer, "b"), nil)
	require.Error(t, list)

	errs := Flatten(list)
	require.Len(t, errs, 2)
	assert.True(t, IsType(errs[0], ErrorTypeRateLimit))
	assert.True(t, IsType(errs[1], ErrorTypeTransfer))
	assert.Len(t, Flatten(io.EOF), 1)
	assert.Nil(t, Flatten(nil))
}
