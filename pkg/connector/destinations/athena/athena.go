// Package athena implements the federated-query destination: batches are
// written as Parquet objects to S3 and exposed through an external table
// created by an Athena DDL query. Queries are polled until they reach a
// terminal state or the configured wait elapses.
package athena

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/formats/columnar"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	"github.com/ajitpratap0/nebula-sync/pkg/pool"
	schemapkg "github.com/ajitpratap0/nebula-sync/pkg/schema"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

const (
	// DefaultPollInterval is the delay between query status checks
	DefaultPollInterval = time.Second
	// DefaultMaxWait bounds how long a query may run
	DefaultMaxWait = 300 * time.Second
	// DefaultPrefix is the S3 key prefix of table data
	DefaultPrefix = "nebula-sync"

	dataCatalog = "AwsDataCatalog"
)

// queryAPI is the slice of the Athena client the adapter uses.
type queryAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetTableMetadata(ctx context.Context, in *athena.GetTableMetadataInput, optFns ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error)
	GetWorkGroup(ctx context.Context, in *athena.GetWorkGroupInput, optFns ...func(*athena.Options)) (*athena.GetWorkGroupOutput, error)
}

// Adapter is the Athena destination.
type Adapter struct {
	region         string
	bucket         string
	prefix         string
	database       string
	workgroup      string
	outputLocation string
	pollInterval   time.Duration
	maxWait        time.Duration
	logger         *zap.Logger

	queries queryAPI
	objects objectStore

	cleaner *schemapkg.Cleaner

	mu      sync.Mutex
	targets map[string]prepared
}

// prepared is the schema batches of a table are encoded with. recast is set
// when the table existed and rows are converted to its column types.
type prepared struct {
	schema *core.Schema
	recast bool
}

// New builds AWS clients from the default credential chain, or from the
// accessKeyId/secretAccessKey credentials when given. Required keys: region,
// bucket, databaseName, workgroup, outputLocation.
func New(ctx context.Context, desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (*Adapter, error) {
	a, err := newAdapter(desc, syncCfg)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(a.region)}
	if key := desc.Lookup("accessKeyId"); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, desc.Lookup("secretAccessKey"), desc.Lookup("sessionToken"))))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS config")
	}
	a.queries = athena.NewFromConfig(cfg)
	a.objects = newS3Store(cfg)
	return a, nil
}

func newAdapter(desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (*Adapter, error) {
	if err := desc.Require("region", "bucket", "databaseName", "workgroup", "outputLocation"); err != nil {
		return nil, err
	}
	output := desc.Lookup("outputLocation")
	if !strings.HasPrefix(output, "s3://") {
		return nil, errors.Newf(errors.ErrorTypeValidation, "outputLocation must be an s3:// uri, got %q", output)
	}

	poll := syncCfg.Timeouts.QueryPollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	wait := syncCfg.Timeouts.QueryWait
	if wait <= 0 {
		wait = DefaultMaxWait
	}
	prefix := strings.Trim(desc.Lookup("prefix"), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Adapter{
		region:         desc.Lookup("region"),
		bucket:         strings.TrimPrefix(desc.Lookup("bucket"), "s3://"),
		prefix:         prefix,
		database:       desc.Lookup("databaseName"),
		workgroup:      desc.Lookup("workgroup"),
		outputLocation: output,
		pollInterval:   poll,
		maxWait:        wait,
		logger:         logger.Get().With(zap.String("destination", string(core.DestinationTypeAthena))),
		cleaner:        schemapkg.NewCleaner(),
		targets:        make(map[string]prepared),
	}, nil
}

// Type implements core.DestinationAdapter.
func (a *Adapter) Type() core.DestinationType {
	return core.DestinationTypeAthena
}

// TestConnection checks the workgroup and the data bucket.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if _, err := a.queries.GetWorkGroup(ctx, &athena.GetWorkGroupInput{WorkGroup: aws.String(a.workgroup)}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read Athena workgroup").WithDetail("workgroup", a.workgroup)
	}
	if err := a.objects.HeadBucket(ctx, a.bucket); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "data bucket is not accessible").WithDetail("bucket", a.bucket)
	}
	return nil
}

func (a *Adapter) tableKey(table string) string {
	return fmt.Sprintf("%s/%s/", a.prefix, stringpool.SanitizeIdentifier(table))
}

// Location returns the S3 location of table data.
func (a *Adapter) Location(table string) string {
	return fmt.Sprintf("s3://%s/%s", a.bucket, a.tableKey(table))
}

// existingSchema returns the columns of table, or nil when it does not exist.
func (a *Adapter) existingSchema(ctx context.Context, table string) (*core.Schema, error) {
	out, err := a.queries.GetTableMetadata(ctx, &athena.GetTableMetadataInput{
		CatalogName:  aws.String(dataCatalog),
		DatabaseName: aws.String(a.database),
		TableName:    aws.String(table),
	})
	if err != nil {
		var notFound *types.MetadataException
		if stderrors.As(err, &notFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table metadata")
	}
	existing := &core.Schema{Name: table}
	if out.TableMetadata != nil {
		for _, c := range out.TableMetadata.Columns {
			existing.Fields = append(existing.Fields, core.Field{
				Name:     strings.ToLower(aws.ToString(c.Name)),
				Type:     FieldTypeOf(aws.ToString(c.Type)),
				Nullable: true,
			})
		}
	}
	return existing, nil
}

// EnsureTarget creates the external table. Replace drops the table and its
// data files. Appending to an existing table requires schema to fit its
// columns; batches are then encoded with the column types of the table.
func (a *Adapter) EnsureTarget(ctx context.Context, table string, schema *core.Schema, policy core.WritePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if schema == nil || len(schema.Fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot create a table without columns")
	}
	name := stringpool.SanitizeIdentifier(table)

	existing, err := a.existingSchema(ctx, name)
	if err != nil {
		return err
	}
	target := prepared{schema: schema}
	if existing != nil {
		switch policy {
		case core.WritePolicyFailIfExists:
			return errors.Newf(errors.ErrorTypeValidation, "table %s.%s already exists", a.database, name)
		case core.WritePolicyReplace:
			if err := a.RunQuery(ctx, DropTableSQL(a.database, name)); err != nil {
				return err
			}
			n, err := a.objects.DeletePrefix(ctx, a.bucket, a.tableKey(table))
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeTransfer, "failed to delete table data")
			}
			a.logger.Info("replaced table", zap.String("table", name), zap.Int("deleted_objects", n))
			existing = nil
		default:
			columns, err := existing.Conform(tableSchema(schema))
			if err != nil {
				return withTable(err, a.database+"."+name)
			}
			target = prepared{schema: withColumnTypes(schema, columns), recast: true}
		}
	}

	if existing == nil {
		if err := a.RunQuery(ctx, CreateTableSQL(a.database, name, tableSchema(schema), a.Location(table))); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.targets[table] = target
	a.mu.Unlock()
	return nil
}

// WriteBatch uploads rows as one Parquet object under the table location.
func (a *Adapter) WriteBatch(ctx context.Context, table string, rows []core.Row) (core.WriteResult, error) {
	a.mu.Lock()
	target, ok := a.targets[table]
	a.mu.Unlock()
	if !ok {
		return core.WriteResult{}, errors.Newf(errors.ErrorTypeValidation, "table %q was not prepared", table)
	}
	if len(rows) == 0 {
		return core.WriteResult{}, nil
	}
	schema := target.schema
	if target.recast {
		rows = a.cleaner.Clean(schema, rows)
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w, err := columnar.NewWriter(buf, columnar.Parquet, &columnar.WriterConfig{Schema: tableSchema(schema), Compression: "snappy"})
	if err != nil {
		return core.WriteResult{}, err
	}
	if err := w.WriteRows(renameRows(schema, rows)); err != nil {
		_ = w.Close()
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to encode parquet batch")
	}
	if err := w.Close(); err != nil {
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to finish parquet batch")
	}

	key := a.tableKey(table) + uuid.NewString() + ".parquet"
	if err := a.objects.Put(ctx, a.bucket, key, buf); err != nil {
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to upload parquet batch").
			WithDetail("key", key)
	}
	a.logger.Debug("uploaded batch", zap.String("key", key), zap.Int("rows", len(rows)))
	return core.WriteResult{RowsWritten: int64(len(rows))}, nil
}

// RunQuery submits query and polls until it succeeds, fails or the maximum
// wait elapses.
func (a *Adapter) RunQuery(ctx context.Context, query string) error {
	out, err := a.queries.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &types.QueryExecutionContext{Database: aws.String(a.database)},
		ResultConfiguration:   &types.ResultConfiguration{OutputLocation: aws.String(a.outputLocation)},
		WorkGroup:             aws.String(a.workgroup),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to start Athena query")
	}
	id := aws.ToString(out.QueryExecutionId)
	log := a.logger.With(zap.String("query_execution_id", id))

	deadline := time.NewTimer(a.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		res, err := a.queries.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to poll Athena query").WithDetail("query_execution_id", id)
		}
		var state types.QueryExecutionState
		var reason string
		if res.QueryExecution != nil && res.QueryExecution.Status != nil {
			state = res.QueryExecution.Status.State
			reason = aws.ToString(res.QueryExecution.Status.StateChangeReason)
		}
		switch state {
		case types.QueryExecutionStateSucceeded:
			log.Debug("query succeeded")
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return errors.Newf(errors.ErrorTypeQuery, "Athena query %s: %s", strings.ToLower(string(state)), reason).
				WithDetail("query_execution_id", id)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "query wait cancelled")
		case <-deadline.C:
			return errors.Newf(errors.ErrorTypeTimeout, "Athena query did not finish within %s", a.maxWait).
				WithDetail("query_execution_id", id)
		case <-ticker.C:
		}
	}
}

// Close is a no-op; AWS clients hold no resources that need releasing.
func (a *Adapter) Close(ctx context.Context) error {
	return nil
}
