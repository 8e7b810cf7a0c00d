package core

import (
	"sort"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// ConnectorType identifies a source connector implementation. The set is closed:
// configuration naming any other value is rejected before execution starts.
type ConnectorType string

const (
	// ConnectorTypeLinkedInAds is the LinkedIn Marketing API source
	ConnectorTypeLinkedInAds ConnectorType = "linkedin_ads"
	// ConnectorTypeSample is the deterministic in-process source used for local runs
	ConnectorTypeSample ConnectorType = "sample"
)

// ConnectorTypes returns every known connector type in sorted order.
func ConnectorTypes() []ConnectorType {
	types := []ConnectorType{ConnectorTypeLinkedInAds, ConnectorTypeSample}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate rejects connector types outside the closed set.
func (t ConnectorType) Validate() error {
	switch t {
	case ConnectorTypeLinkedInAds, ConnectorTypeSample:
		return nil
	case "":
		return errors.New(errors.ErrorTypeValidation, "connector type is required")
	default:
		return errors.Newf(errors.ErrorTypeUnknownConnector, "unknown connector type %q", string(t))
	}
}

// DestinationType identifies a destination adapter implementation.
type DestinationType string

const (
	// DestinationTypeCSV writes timestamped flat files
	DestinationTypeCSV DestinationType = "csv"
	// DestinationTypePostgres writes to a PostgreSQL table
	DestinationTypePostgres DestinationType = "postgres"
	// DestinationTypeMySQL writes to a MySQL table
	DestinationTypeMySQL DestinationType = "mysql"
	// DestinationTypeBigQuery writes to a BigQuery table
	DestinationTypeBigQuery DestinationType = "bigquery"
	// DestinationTypeAthena writes Parquet files queried through Athena
	DestinationTypeAthena DestinationType = "athena"
)

// DestinationCategory groups destination types by backend family.
type DestinationCategory string

const (
	CategoryFlatFile          DestinationCategory = "flat-file"
	CategoryRelational        DestinationCategory = "relational"
	CategoryColumnarWarehouse DestinationCategory = "columnar-warehouse"
	CategoryFederatedQuery    DestinationCategory = "federated-query"
)

// Category returns the backend family of the destination type.
func (t DestinationType) Category() DestinationCategory {
	switch t {
	case DestinationTypeCSV:
		return CategoryFlatFile
	case DestinationTypePostgres, DestinationTypeMySQL:
		return CategoryRelational
	case DestinationTypeBigQuery:
		return CategoryColumnarWarehouse
	case DestinationTypeAthena:
		return CategoryFederatedQuery
	default:
		return ""
	}
}

// DestinationTypes lists every supported destination type.
func DestinationTypes() []DestinationType {
	return []DestinationType{DestinationTypeCSV, DestinationTypePostgres, DestinationTypeMySQL, DestinationTypeBigQuery, DestinationTypeAthena}
}

// Validate rejects destination types outside the closed set.
func (t DestinationType) Validate() error {
	if t == "" {
		return errors.New(errors.ErrorTypeValidation, "destination type is required")
	}
	if t.Category() == "" {
		return errors.Newf(errors.ErrorTypeUnknownConnector, "unknown destination type %q", string(t))
	}
	return nil
}

// SyncMode selects how a stream is extracted.
type SyncMode string

const (
	// SyncModeFullRefresh re-reads the whole stream on every run
	SyncModeFullRefresh SyncMode = "full_refresh"
	// SyncModeIncremental resumes from the persisted cursor
	SyncModeIncremental SyncMode = "incremental"
)

// Validate rejects unknown sync modes.
func (m SyncMode) Validate() error {
	switch m {
	case SyncModeFullRefresh, SyncModeIncremental:
		return nil
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown sync mode %q", string(m))
	}
}

// Status is the lifecycle state of an extraction run or transfer job.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}
