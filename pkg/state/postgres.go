package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
	stringpool "github.com/ajitpratap0/nebula-sync/pkg/strings"
)

// PostgresStore keeps states in a PostgreSQL table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects to dsn and creates table when missing.
func NewPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if table == "" {
		table = "sync_state"
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to parse state store DSN")
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create state store pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping state store")
	}

	s := &PostgresStore{pool: pool, table: pgx.Identifier{stringpool.SanitizeIdentifier(table)}.Sanitize()}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to create state table")
	}
	return s, nil
}

func (s *PostgresStore) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	connector  TEXT NOT NULL,
	stream     TEXT NOT NULL,
	cursor     JSONB NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (connector, stream)
)`, s.table)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, connector, stream string) (*SyncState, error) {
	var (
		raw   []byte
		state = SyncState{Connector: connector, Stream: stream}
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT cursor, version, updated_at FROM %s WHERE connector = $1 AND stream = $2`, s.table),
		connector, stream,
	).Scan(&raw, &state.Version, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read sync state")
	}

	var cursor core.StreamState
	if err := jsonpool.Unmarshal(raw, &cursor); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode sync state")
	}
	state.Cursor = cursor
	return &state, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, st *SyncState) error {
	raw, err := jsonpool.Marshal(st.Cursor)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode sync state")
	}
	version := st.Version
	if version == 0 {
		version = SchemaVersion
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (connector, stream, cursor, version, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (connector, stream) DO UPDATE
SET cursor = EXCLUDED.cursor, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`, s.table),
		st.Connector, st.Stream, raw, version, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to save sync state")
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, connector, stream string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE connector = $1 AND stream = $2`, s.table), connector, stream)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to delete sync state")
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
