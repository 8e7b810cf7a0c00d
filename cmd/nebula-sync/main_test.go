package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
)

func writeJob(t *testing.T, exportRoot string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	content := `name: sample-to-csv
source:
  type: sample
  options:
    accounts: 2
    events: 5
  sync_modes:
    events: incremental
destination:
  type: csv
  options:
    exportRoot: ` + exportRoot + `
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(viper.New())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConnectorsCommand(t *testing.T) {
	out, err := execute(t, "connectors")
	require.NoError(t, err)
	assert.Contains(t, out, "linkedin_ads")
	assert.Contains(t, out, "sample")
	assert.Contains(t, out, "athena")
	assert.Contains(t, out, "federated-query")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nebula-sync v"+version)
}

func TestSyncCommand(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, "sync", "--config", writeJob(t, root))
	require.NoError(t, err)

	var summary struct {
		Status        core.Status `json:"status"`
		RecordsLoaded int64       `json:"records_loaded"`
	}
	require.NoError(t, jsonpool.Unmarshal([]byte(out), &summary))
	assert.Equal(t, core.StatusSuccess, summary.Status)
	assert.Equal(t, int64(7), summary.RecordsLoaded)

	files, err := filepath.Glob(filepath.Join(root, "*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDiscoverCommand(t *testing.T) {
	out, err := execute(t, "discover", "--config", writeJob(t, t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "SPEC"`)
	assert.Contains(t, out, `"accounts"`)
	assert.Contains(t, out, `"updatedAt"`)
	assert.Contains(t, out, `"supported_sync_modes"`)
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "--config", writeJob(t, t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, out, "sample source ready")
	assert.Contains(t, out, "destination csv: reachable")

	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o600))
	_, err = execute(t, "check", "--config", writeJob(t, blocked))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestSpecCommand(t *testing.T) {
	out, err := execute(t, "spec", "linkedin_ads")
	require.NoError(t, err)
	assert.Contains(t, out, `"required": true`)

	_, err = execute(t, "spec", "salesforce")
	require.Error(t, err)
}

func TestCommandsRequireJobFile(t *testing.T) {
	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job file is required")
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("NEBULA_SYNC_STATE_BACKEND", "postgres")
	t.Setenv("NEBULA_SYNC_STATE_DSN", "postgres://localhost/state")

	v := viper.New()
	newRootCommand(v)
	v.Set("log-level", "debug")
	v.Set("kafka-brokers", []string{"localhost:9092"})

	job := config.NewJobConfig("job")
	applyOverrides(v, job)
	assert.Equal(t, "debug", job.Logging.Level)
	assert.Equal(t, "postgres", job.State.Backend)
	assert.Equal(t, "postgres://localhost/state", job.State.DSN)
	assert.Equal(t, []string{"localhost:9092"}, job.Observability.KafkaBrokers)
	assert.Equal(t, "nebula-sync.jobs", job.Observability.KafkaTopic)
}
