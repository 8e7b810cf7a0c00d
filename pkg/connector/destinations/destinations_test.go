package destinations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	sc := config.NewSyncConfig()

	adapter, err := New(ctx, &core.DestinationDescriptor{
		Type:    core.DestinationTypeCSV,
		Options: map[string]interface{}{"exportRoot": t.TempDir()},
	}, sc)
	require.NoError(t, err)
	assert.Equal(t, core.DestinationTypeCSV, adapter.Type())

	adapter, err = New(ctx, &core.DestinationDescriptor{
		Type:        core.DestinationTypeMySQL,
		Options:     map[string]interface{}{"host": "db", "port": 3306, "database": "ads", "username": "u"},
		Credentials: map[string]string{"password": "p"},
	}, sc)
	require.NoError(t, err)
	assert.Equal(t, core.DestinationTypeMySQL, adapter.Type())

	_, err = New(ctx, &core.DestinationDescriptor{Type: "redshift"}, sc)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New(ctx, &core.DestinationDescriptor{Type: core.DestinationTypeCSV, Policy: "merge"}, sc)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New(ctx, nil, sc)
	assert.Error(t, err)
}
