package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

const jobYAML = `
name: linkedin-to-csv
source:
  type: linkedin_ads
  credentials:
    access_token: ${TEST_LINKEDIN_TOKEN}
  options:
    account_ids: [42]
  streams: [campaigns]
destination:
  type: csv
  options:
    exportRoot: /tmp/exports
sync:
  performance:
    batch_size: 250
  reliability:
    retry_attempts: 5
`

func TestLoadJob_AppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEST_LINKEDIN_TOKEN", "token-123")
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobYAML), 0o600))

	cfg, err := LoadJob(path)
	require.NoError(t, err)

	assert.Equal(t, "linkedin-to-csv", cfg.Name)
	assert.Equal(t, core.ConnectorTypeLinkedInAds, cfg.Source.Type)
	assert.Equal(t, "token-123", cfg.Source.Credential("access_token"))
	assert.Equal(t, []string{"campaigns"}, cfg.Source.Streams)
	assert.Equal(t, core.WritePolicyAppend, cfg.Destination.EffectivePolicy())

	assert.Equal(t, 250, cfg.Sync.Performance.BatchSize)
	assert.Equal(t, 100, cfg.Sync.Performance.SampleSize)
	assert.Equal(t, 5, cfg.Sync.Reliability.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Sync.Reliability.RetryDelay)
	assert.Equal(t, "memory", cfg.State.Backend)
}

func TestJobConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *JobConfig)
		errType errors.ErrorType
	}{
		{"missing name", func(c *JobConfig) { c.Name = "" }, errors.ErrorTypeValidation},
		{"unknown source", func(c *JobConfig) { c.Source.Type = "hubspot" }, errors.ErrorTypeUnknownConnector},
		{"unknown destination", func(c *JobConfig) { c.Destination.Type = "redshift" }, errors.ErrorTypeUnknownConnector},
		{"bad batch", func(c *JobConfig) { c.Sync.Performance.BatchSize = 0 }, errors.ErrorTypeValidation},
		{"state dsn", func(c *JobConfig) { c.State.Backend = "postgres" }, errors.ErrorTypeValidation},
		{"state backend", func(c *JobConfig) { c.State.Backend = "etcd" }, errors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewJobConfig("job")
			cfg.Source.Type = core.ConnectorTypeSample
			cfg.Destination.Type = core.DestinationTypeCSV
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), err.Error())
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "alpha")
	assert.Equal(t, "x=alpha y= z", substituteEnvVars("x=${A_VAR} y=${UNSET_VAR_XYZ} z"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	in := NewSyncConfig()
	in.Performance.BatchSize = 42
	require.NoError(t, Save(path, &in))

	var out SyncConfig
	require.NoError(t, Load(path, &out))
	assert.Equal(t, 42, out.Performance.BatchSize)
}
