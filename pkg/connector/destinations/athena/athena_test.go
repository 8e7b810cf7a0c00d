package athena

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/formats/columnar"
)

type fakeQueries struct {
	mu          sync.Mutex
	queries     []string
	states      []types.QueryExecutionState
	polls       int
	tableExists bool
	columns     []types.Column
}

func (f *fakeQueries) StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, aws.ToString(in.QueryString))
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("q-1")}, nil
}

func (f *fakeQueries) GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := types.QueryExecutionStateSucceeded
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		Status: &types.QueryExecutionStatus{State: state, StateChangeReason: aws.String("syntax error")},
	}}, nil
}

func (f *fakeQueries) GetTableMetadata(ctx context.Context, in *athena.GetTableMetadataInput, _ ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error) {
	if f.tableExists {
		return &athena.GetTableMetadataOutput{TableMetadata: &types.TableMetadata{
			Name:    in.TableName,
			Columns: f.columns,
		}}, nil
	}
	return nil, &types.MetadataException{Message: aws.String("table not found")}
}

func (f *fakeQueries) GetWorkGroup(ctx context.Context, in *athena.GetWorkGroupInput, _ ...func(*athena.Options)) (*athena.GetWorkGroupOutput, error) {
	return &athena.GetWorkGroupOutput{}, nil
}

type fakeObjects struct {
	objects map[string][]byte
	deleted []string
}

func (f *fakeObjects) HeadBucket(ctx context.Context, bucket string) error { return nil }

func (f *fakeObjects) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	f.deleted = append(f.deleted, prefix)
	return 0, nil
}

func descriptor() *core.DestinationDescriptor {
	return &core.DestinationDescriptor{
		Type: core.DestinationTypeAthena,
		Options: map[string]interface{}{
			"region":         "eu-west-1",
			"bucket":         "s3://lake",
			"databaseName":   "marketing",
			"workgroup":      "primary",
			"outputLocation": "s3://lake/athena-results/",
		},
	}
}

func newTestAdapter(t *testing.T, q *fakeQueries) (*Adapter, *fakeObjects) {
	t.Helper()
	sc := config.NewSyncConfig()
	sc.Timeouts.QueryPollInterval = time.Millisecond
	sc.Timeouts.QueryWait = 200 * time.Millisecond
	a, err := newAdapter(descriptor(), sc)
	require.NoError(t, err)
	objects := &fakeObjects{objects: make(map[string][]byte)}
	a.queries = q
	a.objects = objects
	return a, objects
}

var schema = &core.Schema{
	Name: "events",
	Fields: []core.Field{
		{Name: "accountId", Type: core.FieldTypeInt, Nullable: true},
		{Name: "amount", Type: core.FieldTypeFloat, Nullable: true},
		{Name: "updatedAt", Type: core.FieldTypeTimestamp, Nullable: true},
	},
}

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL("marketing", "events", tableSchema(schema), "s3://lake/nebula-sync/events/")
	assert.Equal(t,
		"CREATE EXTERNAL TABLE IF NOT EXISTS `marketing`.`events` (`accountid` bigint, `amount` double, `updatedat` timestamp) "+
			"STORED AS PARQUET LOCATION 's3://lake/nebula-sync/events/'", sql)
	assert.Equal(t, "DROP TABLE IF EXISTS `marketing`.`events`", DropTableSQL("marketing", "events"))
}

func TestColumnType(t *testing.T) {
	assert.Equal(t, "boolean", ColumnType(core.FieldTypeBool))
	assert.Equal(t, "date", ColumnType(core.FieldTypeDate))
	assert.Equal(t, "string", ColumnType(core.FieldTypeString))
}

func TestEnsureTargetAndWrite(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueries{states: []types.QueryExecutionState{types.QueryExecutionStateQueued, types.QueryExecutionStateRunning}}
	a, objects := newTestAdapter(t, q)

	require.NoError(t, a.TestConnection(ctx))
	require.NoError(t, a.EnsureTarget(ctx, "events", schema, core.WritePolicyAppend))
	require.Len(t, q.queries, 1)
	assert.True(t, strings.HasPrefix(q.queries[0], "CREATE EXTERNAL TABLE IF NOT EXISTS"))
	assert.Equal(t, 3, q.polls)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := a.WriteBatch(ctx, "events", []core.Row{
		{"accountId": int64(1), "amount": 2.5, "updatedAt": ts},
		{"accountId": int64(2), "amount": nil, "updatedAt": ts},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsWritten)

	require.Len(t, objects.objects, 1)
	for key, data := range objects.objects {
		assert.True(t, strings.HasPrefix(key, "nebula-sync/events/"))
		assert.True(t, strings.HasSuffix(key, ".parquet"))
		n, names, err := columnar.ReadParquet(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, []string{"accountid", "amount", "updatedat"}, names)
	}
	assert.Equal(t, "s3://lake/nebula-sync/events/", a.Location("events"))
}

func TestEnsureTargetPolicies(t *testing.T) {
	ctx := context.Background()

	a, _ := newTestAdapter(t, &fakeQueries{tableExists: true})
	err := a.EnsureTarget(ctx, "events", schema, core.WritePolicyFailIfExists)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	q := &fakeQueries{tableExists: true}
	a, objects := newTestAdapter(t, q)
	require.NoError(t, a.EnsureTarget(ctx, "events", schema, core.WritePolicyReplace))
	require.Len(t, q.queries, 2)
	assert.True(t, strings.HasPrefix(q.queries[0], "DROP TABLE"))
	assert.Equal(t, []string{"nebula-sync/events/"}, objects.deleted)
}

func column(name, typ string) types.Column {
	return types.Column{Name: aws.String(name), Type: aws.String(typ)}
}

func TestEnsureTarget_AppendToExistingTable(t *testing.T) {
	tests := []struct {
		name    string
		columns []types.Column
		schema  *core.Schema
		wantErr bool
	}{
		{
			name:    "unknown column",
			columns: []types.Column{column("other", "string")},
			schema:  &core.Schema{Name: "events", Fields: []core.Field{{Name: "id", Type: core.FieldTypeInt}}},
			wantErr: true,
		},
		{
			name:    "timestamp into bigint",
			columns: []types.Column{column("accountid", "bigint"), column("updatedat", "bigint")},
			schema:  schema,
			wantErr: true,
		},
		{
			name:    "array column",
			columns: []types.Column{column("tags", "array<string>")},
			schema:  &core.Schema{Name: "events", Fields: []core.Field{{Name: "tags", Type: core.FieldTypeString}}},
			wantErr: true,
		},
		{
			name: "narrower fields",
			columns: []types.Column{
				column("accountid", "bigint"), column("amount", "double"),
				column("updatedat", "timestamp"), column("legacy", "varchar(64)"),
			},
			schema: &core.Schema{Name: "events", Fields: []core.Field{
				{Name: "accountId", Type: core.FieldTypeBool},
				{Name: "amount", Type: core.FieldTypeInt},
				{Name: "updatedAt", Type: core.FieldTypeDate},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			q := &fakeQueries{tableExists: true, columns: tt.columns}
			a, objects := newTestAdapter(t, q)

			err := a.EnsureTarget(ctx, "events", tt.schema, core.WritePolicyAppend)
			assert.Empty(t, q.queries)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))
				_, err = a.WriteBatch(ctx, "events", []core.Row{{"id": int64(1)}})
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				assert.Empty(t, objects.objects)
				return
			}
			require.NoError(t, err)

			res, err := a.WriteBatch(ctx, "events", []core.Row{
				{"accountId": true, "amount": int64(3), "updatedAt": "2024-01-02"},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.RowsWritten)
			require.Len(t, objects.objects, 1)
			for _, data := range objects.objects {
				n, names, err := columnar.ReadParquet(ctx, data)
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)
				assert.Equal(t, []string{"accountid", "amount", "updatedat"}, names)
			}
		})
	}
}

func TestFieldTypeOf(t *testing.T) {
	assert.Equal(t, core.FieldTypeInt, FieldTypeOf("BIGINT"))
	assert.Equal(t, core.FieldTypeFloat, FieldTypeOf("decimal(10,2)"))
	assert.Equal(t, core.FieldTypeString, FieldTypeOf("varchar(255)"))
	assert.Equal(t, core.FieldTypeTimestamp, FieldTypeOf("timestamp"))
	assert.Equal(t, core.FieldType("array"), FieldTypeOf("array<string>"))
}

func TestRunQuery_Failed(t *testing.T) {
	a, _ := newTestAdapter(t, &fakeQueries{states: []types.QueryExecutionState{types.QueryExecutionStateFailed}})
	err := a.RunQuery(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestRunQuery_Timeout(t *testing.T) {
	states := make([]types.QueryExecutionState, 100000)
	for i := range states {
		states[i] = types.QueryExecutionStateRunning
	}
	a, _ := newTestAdapter(t, &fakeQueries{states: states})
	a.maxWait = 20 * time.Millisecond
	err := a.RunQuery(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestNew_Validation(t *testing.T) {
	desc := descriptor()
	delete(desc.Options, "workgroup")
	_, err := newAdapter(desc, config.NewSyncConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	desc = descriptor()
	desc.Options["outputLocation"] = "/tmp/results"
	_, err = newAdapter(desc, config.NewSyncConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	a, err := newAdapter(descriptor(), config.NewSyncConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, a.pollInterval)
}

func TestWriteBatch_Unprepared(t *testing.T) {
	a, _ := newTestAdapter(t, &fakeQueries{})
	_, err := a.WriteBatch(context.Background(), "events", []core.Row{{"accountId": int64(1)}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
