// Package sample implements a deterministic in-process source used for local
// runs, demos and engine tests. It needs no credentials.
//
// Streams:
//   - accounts: full refresh, one record per account
//   - events:   incremental on updatedAt, one event per hour starting at base_time
package sample

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/base"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
)

const (
	// Version of the sample connector
	Version = "1.0.0"
	// Description shown by the connectors command
	Description = "Deterministic accounts and events streams for local runs"

	StreamAccounts = "accounts"
	StreamEvents   = "events"

	defaultAccounts = 3
	defaultEvents   = 24
	defaultPageSize = 10
)

var defaultBaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var connectionSpec = core.ConnectionSpec{
	Properties: []core.SpecProperty{
		{Name: "accounts", Description: "Number of accounts to generate (default 3)"},
		{Name: "events", Description: "Number of events to generate (default 24)"},
		{Name: "page_size", Description: "Records per page (default 10)"},
		{Name: "base_time", Description: "RFC3339 timestamp of the first event"},
		{Name: "fail_streams", Description: "Streams whose reads fail with an unavailable error"},
		{Name: "fail_check", Description: "Make CheckConnection fail"},
	},
}

// Spec returns the configuration keys the connector accepts.
func Spec() core.ConnectionSpec {
	return connectionSpec
}

// Source generates records from its options alone.
type Source struct {
	*base.BaseConnector

	accounts    int
	events      int
	pageSize    int
	baseTime    time.Time
	failStreams map[string]bool
	failCheck   bool
}

// New creates a sample source. It matches registry.Factory.
func New(cfg *core.ConnectorConfig, syncCfg config.SyncConfig) (core.SourceConnector, error) {
	b, err := base.NewBaseConnector(core.ConnectorTypeSample, Version, cfg, syncCfg, connectionSpec)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseConnector: b,
		accounts:      cfg.IntOption("accounts", defaultAccounts),
		events:        cfg.IntOption("events", defaultEvents),
		pageSize:      cfg.IntOption("page_size", defaultPageSize),
		baseTime:      defaultBaseTime,
		failStreams:   make(map[string]bool),
		failCheck:     cfg.StringOption("fail_check", "false") == "true",
	}
	if s.accounts < 0 || s.events < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "accounts and events cannot be negative")
	}
	if s.pageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "page_size must be positive")
	}
	if raw := cfg.StringOption("base_time", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "base_time must be RFC3339")
		}
		s.baseTime = t.UTC()
	}
	for _, name := range cfg.StringSliceOption("fail_streams") {
		s.failStreams[name] = true
	}
	return s, nil
}

// CheckConnection always succeeds unless fail_check is set.
func (s *Source) CheckConnection(ctx context.Context) core.ConnectionStatus {
	if err := s.CheckClosed(); err != nil {
		return core.ConnectionFailed(err)
	}
	if s.failCheck {
		return core.ConnectionFailed(errors.New(errors.ErrorTypeConnection, "sample connection check disabled by fail_check"))
	}
	return core.ConnectionSucceeded(fmt.Sprintf("sample source ready: %d accounts, %d events", s.accounts, s.events))
}

// Discover returns the two sample streams.
func (s *Source) Discover(ctx context.Context) (*core.Catalog, error) {
	return Catalog(), nil
}

// Catalog describes the sample streams.
func Catalog() *core.Catalog {
	return &core.Catalog{
		Streams: []core.StreamDescriptor{
			{
				Name: StreamAccounts,
				Fields: []core.Field{
					{Name: "id", Type: core.FieldTypeInt},
					{Name: "name", Type: core.FieldTypeString},
					{Name: "active", Type: core.FieldTypeBool},
					{Name: "currency", Type: core.FieldTypeString},
					{Name: "createdOn", Type: core.FieldTypeDate},
					{Name: "labels", Type: core.FieldTypeString, Nullable: true},
				},
				SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh},
				PrimaryKey:         []string{"id"},
			},
			{
				Name: StreamEvents,
				Fields: []core.Field{
					{Name: "id", Type: core.FieldTypeInt},
					{Name: "accountId", Type: core.FieldTypeInt},
					{Name: "kind", Type: core.FieldTypeString},
					{Name: "amount", Type: core.FieldTypeFloat},
					{Name: "updatedAt", Type: core.FieldTypeTimestamp},
				},
				SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh, core.SyncModeIncremental},
				DefaultCursorField: "updatedAt",
				PrimaryKey:         []string{"id"},
			},
		},
		ConnectionSpecification: connectionSpec,
	}
}

// Read emits the requested streams in order. Each stream's State message
// follows its last record.
func (s *Source) Read(ctx context.Context, streams []core.ConfiguredStream, state core.State) (*core.MessageStream, error) {
	if err := s.CheckClosed(); err != nil {
		return nil, err
	}
	for _, cs := range streams {
		if _, ok := Catalog().Stream(cs.Name()); !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown sample stream %q", cs.Name())
		}
	}

	return core.NewMessageStream(ctx, func(ctx context.Context, emit core.EmitFunc) error {
		for _, cs := range streams {
			if err := s.readStream(ctx, cs, state[cs.Name()], emit); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func (s *Source) readStream(ctx context.Context, cs core.ConfiguredStream, prior core.StreamState, emit core.EmitFunc) error {
	log := s.GetLogger().With(zap.String("stream", cs.Name()))

	if s.failStreams[cs.Name()] {
		return s.ExecuteWithRetry(ctx, func() error {
			return errors.Newf(errors.ErrorTypeUnavailable, "sample stream %q unavailable", cs.Name())
		})
	}

	var (
		rows  []map[string]interface{}
		next  core.StreamState
		count int
	)
	switch cs.Name() {
	case StreamAccounts:
		rows = s.accountRows()
		next = core.StreamState{}
	case StreamEvents:
		var cursor time.Time
		if cs.SyncMode == core.SyncModeIncremental {
			cursor = cursorOf(prior)
		}
		rows, next = s.eventRows(cursor, prior)
	}

	for start := 0; start < len(rows); start += s.pageSize {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "sample read cancelled")
		}
		end := start + s.pageSize
		if end > len(rows) {
			end = len(rows)
		}
		for _, row := range rows[start:end] {
			if err := emit(core.NewRecordMessage(cs.Name(), row, time.Now())); err != nil {
				return err
			}
			count++
		}
	}

	metrics.RecordsExtracted.WithLabelValues(string(core.ConnectorTypeSample), cs.Name()).Add(float64(count))
	log.Debug("stream read", zap.Int("records", count))
	return emit(core.NewStateMessage(cs.Name(), next))
}

func (s *Source) accountRows() []map[string]interface{} {
	currencies := []string{"USD", "EUR", "GBP"}
	rows := make([]map[string]interface{}, 0, s.accounts)
	for i := 0; i < s.accounts; i++ {
		labels := interface{}([]interface{}{"sample", fmt.Sprintf("tier-%d", i%2+1)})
		if i%3 == 2 {
			labels = nil
		}
		rows = append(rows, map[string]interface{}{
			"id":        i + 1,
			"name":      fmt.Sprintf("Account %d", i+1),
			"active":    i%2 == 0,
			"currency":  currencies[i%len(currencies)],
			"createdOn": s.baseTime.AddDate(0, 0, -30*(i+1)).Format("2006-01-02"),
			"labels":    labels,
		})
	}
	return rows
}

// eventRows returns the events strictly after cursor and the state to persist.
func (s *Source) eventRows(cursor time.Time, prior core.StreamState) ([]map[string]interface{}, core.StreamState) {
	kinds := []string{"impression", "click", "conversion"}
	accounts := s.accounts
	if accounts == 0 {
		accounts = 1
	}

	var (
		rows   []map[string]interface{}
		latest = cursor
	)
	for i := 0; i < s.events; i++ {
		updated := s.baseTime.Add(time.Duration(i) * time.Hour)
		if !cursor.IsZero() && !updated.After(cursor) {
			continue
		}
		rows = append(rows, map[string]interface{}{
			"id":        i + 1,
			"accountId": i%accounts + 1,
			"kind":      kinds[i%len(kinds)],
			"amount":    float64(i%7) * 1.25,
			"updatedAt": updated.Format(time.RFC3339),
		})
		if updated.After(latest) {
			latest = updated
		}
	}

	next := prior.Clone()
	if next == nil {
		next = core.StreamState{}
	}
	if !latest.IsZero() {
		next["updatedAt"] = latest.Format(time.RFC3339)
	}
	return rows, next
}

func cursorOf(state core.StreamState) time.Time {
	raw, ok := state["updatedAt"].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
