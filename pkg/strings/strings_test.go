package strings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValueToString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{42, "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{true, "true"},
		{[]byte("raw"), "raw"},
		{ts, "2024-03-01T12:00:00Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValueToString(tt.in))
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ad_analytics", "ad_analytics"},
		{"Ad Analytics!", "ad_analytics"},
		{"  spaced--name  ", "spaced_name"},
		{"2024 report", "_2024_report"},
		{"***", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeIdentifier(tt.in))
		})
	}
	assert.Equal(t, "mart_events", TableName("mart", "events"))
	assert.Equal(t, "events", TableName("", "Events"))
}
