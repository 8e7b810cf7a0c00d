// Package relational writes batches into Postgres or MySQL tables through
// database/sql, one transactional multi-row INSERT per batch.
package relational

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	schemapkg "github.com/ajitpratap0/nebula-sync/pkg/schema"
)

// Adapter is a relational destination.
type Adapter struct {
	desc    *core.DestinationDescriptor
	dialect Dialect
	conn    Conn
	timeout time.Duration
	logger  *zap.Logger

	openOnce sync.Once
	db       *sql.DB
	openErr  error

	cleaner *schemapkg.Cleaner

	mu      sync.Mutex
	targets map[string]Target
}

// New validates the descriptor. The connection is opened lazily.
func New(desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (*Adapter, error) {
	dialect, ok := DialectFor(desc.Type)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%s is not a relational destination", desc.Type)
	}
	if err := desc.Require("host", "port", "database", "username", "password"); err != nil {
		return nil, err
	}
	port := desc.Int("port", 0)
	if port <= 0 || port > 65535 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid port %q", desc.Lookup("port"))
	}

	timeout := syncCfg.Timeouts.Request
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		desc:    desc,
		dialect: dialect,
		conn: Conn{
			Host:     desc.Lookup("host"),
			Port:     port,
			Database: desc.Lookup("database"),
			Username: desc.Lookup("username"),
			Password: desc.Lookup("password"),
			Schema:   desc.Lookup("schema"),
			SSLMode:  desc.Lookup("sslMode"),
			Timeout:  timeout,
		},
		timeout: timeout,
		logger:  logger.Get().With(zap.String("destination", string(desc.Type))),
		cleaner: schemapkg.NewCleaner(),
		targets: make(map[string]Target),
	}, nil
}

// Type implements core.DestinationAdapter.
func (a *Adapter) Type() core.DestinationType {
	return a.desc.Type
}

func (a *Adapter) open() (*sql.DB, error) {
	a.openOnce.Do(func() {
		db, err := sql.Open(a.dialect.DriverName(), a.dialect.DSN(a.conn))
		if err != nil {
			a.openErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database")
			return
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
		a.db = db
	})
	return a.db, a.openErr
}

// TestConnection pings the database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.open()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "database is unreachable").
			WithDetail("host", a.conn.Host).
			WithDetail("database", a.conn.Database)
	}
	return nil
}

// existingSchema returns the columns of table, or nil when it does not exist.
func (a *Adapter) existingSchema(ctx context.Context, db *sql.DB, table string) (*core.Schema, error) {
	query, namespace := a.dialect.ColumnsSQL(a.conn)
	rows, err := db.QueryContext(ctx, query, namespace, table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table columns")
	}
	defer rows.Close()

	var fields []core.Field
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table columns")
		}
		fields = append(fields, core.Field{Name: name, Type: FieldTypeOf(dataType), Nullable: true})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table columns")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &core.Schema{Name: table, Fields: fields}, nil
}

// EnsureTarget creates table from schema, or applies policy when it exists.
// Appending requires schema to fit the existing columns; rows are then
// converted to the column types before they are inserted.
func (a *Adapter) EnsureTarget(ctx context.Context, table string, schema *core.Schema, policy core.WritePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if schema == nil || len(schema.Fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot create a table without columns")
	}
	db, err := a.open()
	if err != nil {
		return err
	}

	existing, err := a.existingSchema(ctx, db, table)
	if err != nil {
		return err
	}
	log := a.logger.With(zap.String("table", table), zap.String("policy", string(policy)))

	target, err := Prepare(existing, schema, policy)
	if err != nil {
		return err
	}
	if existing != nil && policy == core.WritePolicyReplace {
		if _, err := db.ExecContext(ctx, DropTableSQL(a.dialect, a.conn, table)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop table")
		}
		log.Info("dropped existing table")
	}
	if !target.Recast {
		if _, err := db.ExecContext(ctx, CreateTableSQL(a.dialect, a.conn, table, schema, a.desc.UniqueKey)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table")
		}
		log.Info("created table", zap.Int("columns", len(schema.Fields)))
	}

	a.mu.Lock()
	a.targets[table] = target
	a.mu.Unlock()
	return nil
}

// Target is how batches of one table are written.
type Target struct {
	Schema *core.Schema
	// Recast is set when the table existed and rows are converted to its
	// column types
	Recast bool
}

// Prepare applies policy to the columns of an existing table, nil when there
// is none. fail_if_exists rejects an existing table, replace recreates it and
// append conforms schema to its columns or returns a schema conflict.
func Prepare(existing, schema *core.Schema, policy core.WritePolicy) (Target, error) {
	if existing == nil || policy == core.WritePolicyReplace {
		return Target{Schema: schema}, nil
	}
	if policy == core.WritePolicyFailIfExists {
		return Target{}, errors.Newf(errors.ErrorTypeValidation, "table %s already exists", existing.Name)
	}
	conformed, err := existing.Conform(schema)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("table", existing.Name)
		}
		return Target{}, err
	}
	return Target{Schema: conformed, Recast: true}, nil
}

// WriteBatch inserts rows in a single transaction.
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
	if target.Recast {
		rows = a.cleaner.Clean(target.Schema, rows)
	}
	db, err := a.open()
	if err != nil {
		return core.WriteResult{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to begin transaction")
	}
	for _, stmt := range InsertSQL(a.dialect, a.conn, table, target.Schema, rows) {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			_ = tx.Rollback()
			return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "bulk insert failed").
				WithDetail("table", table).
				WithDetail("rows", len(rows))
		}
	}
	if err := tx.Commit(); err != nil {
		return core.WriteResult{}, errors.Wrap(err, errors.ErrorTypeTransfer, "failed to commit batch")
	}
	return core.WriteResult{RowsWritten: int64(len(rows))}, nil
}

// Location returns host/database.table.
func (a *Adapter) Location(table string) string {
	return a.conn.Host + "/" + a.conn.Database + "." + table
}

// Close closes the connection pool.
func (a *Adapter) Close(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
