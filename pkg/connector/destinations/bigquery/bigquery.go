// Package bigquery writes batches into BigQuery tables with streaming inserts.
// The dataset is created in the configured location when missing and rows
// rejected by BigQuery are reported per row instead of failing the batch.
package bigquery

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	schemapkg "github.com/ajitpratap0/nebula-sync/pkg/schema"
)

// Adapter is the BigQuery destination.
type Adapter struct {
	desc       *core.DestinationDescriptor
	projectID  string
	datasetID  string
	location   string
	credential string
	endpoint   string
	timeout    time.Duration
	logger     *zap.Logger

	clientOnce sync.Once
	client     *bigquery.Client
	clientErr  error

	cleaner *schemapkg.Cleaner

	mu      sync.Mutex
	targets map[string]prepared
}

// New validates the descriptor. Required keys: projectId, datasetId,
// serviceCredential (service account JSON) and location. The optional
// endpoint option points the client at an emulator without authentication.
func New(desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (*Adapter, error) {
	endpoint := desc.Lookup("endpoint")
	required := []string{"projectId", "datasetId", "location"}
	if endpoint == "" {
		required = append(required, "serviceCredential")
	}
	if err := desc.Require(required...); err != nil {
		return nil, err
	}
	timeout := syncCfg.Timeouts.Request
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		desc:       desc,
		projectID:  desc.Lookup("projectId"),
		datasetID:  desc.Lookup("datasetId"),
		location:   desc.Lookup("location"),
		credential: desc.Lookup("serviceCredential"),
		endpoint:   endpoint,
		timeout:    timeout,
		logger:     logger.Get().With(zap.String("destination", string(core.DestinationTypeBigQuery))),
		cleaner:    schemapkg.NewCleaner(),
		targets:    make(map[string]prepared),
	}, nil
}

// Type implements core.DestinationAdapter.
func (a *Adapter) Type() core.DestinationType {
	return core.DestinationTypeBigQuery
}

func (a *Adapter) bq(ctx context.Context) (*bigquery.Client, error) {
	a.clientOnce.Do(func() {
		var opts []option.ClientOption
		if a.endpoint != "" {
			opts = append(opts, option.WithEndpoint(a.endpoint), option.WithoutAuthentication())
		} else {
			opts = append(opts, option.WithCredentialsJSON([]byte(a.credential)))
		}
		client, err := bigquery.NewClient(ctx, a.projectID, opts...)
		if err != nil {
			a.clientErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
			return
		}
		client.Location = a.location
		a.client = client
	})
	return a.client, a.clientErr
}

// TestConnection reads the dataset metadata. A missing dataset is fine since
// EnsureTarget creates it.
func (a *Adapter) TestConnection(ctx context.Context) error {
	client, err := a.bq(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := client.Dataset(a.datasetID).Metadata(ctx); err != nil && !isNotFound(err) {
		return convertAPIError(err, "failed to reach BigQuery dataset")
	}
	return nil
}

func (a *Adapter) ensureDataset(ctx context.Context, client *bigquery.Client) error {
	ds := client.Dataset(a.datasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return convertAPIError(err, "failed to read dataset metadata")
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: a.location}); err != nil {
		var apiErr *googleapi.Error
		if stderrors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return convertAPIError(err, "failed to create dataset")
	}
	a.logger.Info("created dataset", zap.String("dataset", a.datasetID), zap.String("location", a.location))
	return nil
}

// EnsureTarget creates the dataset and table, applying policy to an existing
// table. Appending requires schema to fit the existing columns; rows are then
// converted to the column types before they are inserted.
func (a *Adapter) EnsureTarget(ctx context.Context, table string, schema *core.Schema, policy core.WritePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if schema == nil || len(schema.Fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot create a table without columns")
	}
	client, err := a.bq(ctx)
	if err != nil {
		return err
	}
	if err := a.ensureDataset(ctx, client); err != nil {
		return err
	}

	ref := client.Dataset(a.datasetID).Table(ColumnName(table))
	md, err := ref.Metadata(ctx)
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return convertAPIError(err, "failed to read table metadata")
	}

	target := prepared{schema: schema}
	if exists {
		switch policy {
		case core.WritePolicyFailIfExists:
			return errors.Newf(errors.ErrorTypeValidation, "table %s.%s already exists", a.datasetID, table)
		case core.WritePolicyReplace:
			if err := ref.Delete(ctx); err != nil {
				return convertAPIError(err, "failed to delete table")
			}
			exists = false
		default:
			target, err = conform(ExistingSchema(ColumnName(table), md.Schema), schema)
			if err != nil {
				return err
			}
		}
	}
	if !exists {
		if err := ref.Create(ctx, &bigquery.TableMetadata{Schema: Schema(schema)}); err != nil {
			return convertAPIError(err, "failed to create table")
		}
		a.logger.Info("created table", zap.String("table", table), zap.Int("columns", len(schema.Fields)))
	}

	a.mu.Lock()
	a.targets[table] = target
	a.mu.Unlock()
	return nil
}

// prepared is the schema rows of a table are saved with. recast is set when
// the table existed and rows are converted to its column types.
type prepared struct {
	schema *core.Schema
	recast bool
}

// conform checks schema against the columns of an existing table and types
// its fields like those columns.
func conform(existing, schema *core.Schema) (prepared, error) {
	renamed := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(schema.Fields))}
	for i, f := range schema.Fields {
		f.Name = ColumnName(f.Name)
		renamed.Fields[i] = f
	}
	columns, err := existing.Conform(renamed)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("table", existing.Name)
		}
		return prepared{}, err
	}
	out := &core.Schema{Name: schema.Name, Fields: make([]core.Field, len(schema.Fields))}
	for i, f := range schema.Fields {
		f.Type = columns.Fields[i].Type
		f.Nullable = true
		f.NullOnly = false
		out.Fields[i] = f
	}
	return prepared{schema: out, recast: true}, nil
}

// ExistingSchema converts the schema of an existing table into a core
// schema. Repeated and record columns keep no inferred counterpart.
func ExistingSchema(table string, schema bigquery.Schema) *core.Schema {
	out := &core.Schema{Name: table, Fields: make([]core.Field, 0, len(schema))}
	for _, fs := range schema {
		out.Fields = append(out.Fields, core.Field{Name: fs.Name, Type: FieldTypeOf(fs), Nullable: true})
	}
	return out
}

// FieldTypeOf maps a BigQuery column back onto a core field type.
func FieldTypeOf(fs *bigquery.FieldSchema) core.FieldType {
	if fs.Repeated {
		return core.FieldType("repeated")
	}
	switch fs.Type {
	case bigquery.BooleanFieldType:
		return core.FieldTypeBool
	case bigquery.IntegerFieldType:
		return core.FieldTypeInt
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return core.FieldTypeFloat
	case bigquery.DateFieldType:
		return core.FieldTypeDate
	case bigquery.TimestampFieldType:
		return core.FieldTypeTimestamp
	case bigquery.StringFieldType:
		return core.FieldTypeString
	default:
		return core.FieldType(strings.ToLower(string(fs.Type)))
	}
}

// WriteBatch streams rows into table. Invalid rows are skipped and reported
// in the result; other failures fail the batch.
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
	client, err := a.bq(ctx)
	if err != nil {
		return core.WriteResult{}, err
	}

	inserter := client.Dataset(a.datasetID).Table(ColumnName(table)).Inserter()
	inserter.SkipInvalidRows = true

	savers := make([]*rowSaver, len(rows))
	for i, row := range rows {
		savers[i] = &rowSaver{schema: schema, row: row}
	}

	err = inserter.Put(ctx, savers)
	if err == nil {
		return core.WriteResult{RowsWritten: int64(len(rows))}, nil
	}
	var multi bigquery.PutMultiError
	if stderrors.As(err, &multi) {
		rowErrors := RowErrors(multi)
		return core.WriteResult{
			RowsWritten: int64(len(rows) - len(rowErrors)),
			Errors:      rowErrors,
		}, nil
	}
	return core.WriteResult{}, errors.Wrap(convertAPIError(err, "streaming insert failed"), errors.ErrorTypeTransfer, "failed to write batch").
		WithDetail("table", table)
}

// Location returns project.dataset.table.
func (a *Adapter) Location(table string) string {
	return fmt.Sprintf("%s.%s.%s", a.projectID, a.datasetID, ColumnName(table))
}

// Close closes the client.
func (a *Adapter) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Schema converts a core schema into a BigQuery schema.
func Schema(schema *core.Schema) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		out = append(out, &bigquery.FieldSchema{
			Name:     ColumnName(f.Name),
			Type:     FieldType(f.Type),
			Required: !f.Nullable,
		})
	}
	return out
}

// FieldType maps a core field type to a BigQuery column type.
func FieldType(t core.FieldType) bigquery.FieldType {
	switch t {
	case core.FieldTypeBool:
		return bigquery.BooleanFieldType
	case core.FieldTypeInt:
		return bigquery.IntegerFieldType
	case core.FieldTypeFloat:
		return bigquery.FloatFieldType
	case core.FieldTypeDate:
		return bigquery.DateFieldType
	case core.FieldTypeTimestamp:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

// ColumnName replaces characters BigQuery does not accept in column and table
// names with underscores, keeping case.
func ColumnName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	if len(b) == 0 || b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return string(b)
}

// RowErrors flattens a PutMultiError into per-row errors.
func RowErrors(multi bigquery.PutMultiError) []core.RowError {
	out := make([]core.RowError, 0, len(multi))
	for _, rowErr := range multi {
		out = append(out, core.RowError{Index: rowErr.RowIndex, Message: rowErr.Errors.Error()})
	}
	return out
}

type rowSaver struct {
	schema *core.Schema
	row    core.Row
}

// Save implements bigquery.ValueSaver. The empty insert id lets the client
// generate one.
func (s *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(s.schema.Fields))
	for _, f := range s.schema.Fields {
		v, ok := s.row[f.Name]
		if !ok || v == nil {
			continue
		}
		if t, isTime := v.(time.Time); isTime && f.Type == core.FieldTypeDate {
			v = civil.DateOf(t)
		}
		out[ColumnName(f.Name)] = v
	}
	return out, "", nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// convertAPIError maps googleapi status codes onto error types.
func convertAPIError(err error, msg string) error {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		return errors.Wrap(err, errors.ErrorTypeConnection, msg)
	}
	var errType errors.ErrorType
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		errType = errors.ErrorTypeAuthentication
	case apiErr.Code == http.StatusForbidden:
		errType = errors.ErrorTypePermission
	case apiErr.Code == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case apiErr.Code == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case apiErr.Code >= 500:
		errType = errors.ErrorTypeUnavailable
	default:
		errType = errors.ErrorTypeValidation
	}
	return errors.Wrap(err, errType, msg).WithDetail("status", apiErr.Code)
}
