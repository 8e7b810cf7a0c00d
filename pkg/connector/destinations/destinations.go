// Package destinations resolves a DestinationDescriptor to its adapter.
package destinations

import (
	"context"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations/athena"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations/bigquery"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations/file"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations/relational"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// New validates desc and creates the adapter for its type.
func New(ctx context.Context, desc *core.DestinationDescriptor, syncCfg config.SyncConfig) (core.DestinationAdapter, error) {
	if desc == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "destination descriptor is required")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var (
		adapter core.DestinationAdapter
		err     error
	)
	switch desc.Type.Category() {
	case core.CategoryFlatFile:
		adapter, err = file.New(desc)
	case core.CategoryRelational:
		adapter, err = relational.New(desc, syncCfg)
	case core.CategoryColumnarWarehouse:
		adapter, err = bigquery.New(desc, syncCfg)
	case core.CategoryFederatedQuery:
		adapter, err = athena.New(ctx, desc, syncCfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported destination type %q", desc.Type)
	}
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
