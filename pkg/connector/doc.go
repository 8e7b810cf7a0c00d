// Package connector groups the source and destination sides of a transfer.
//
//   - core: the SourceConnector and DestinationAdapter contracts, catalogs,
//     schemas, messages and the lazy MessageStream.
//   - base: BaseConnector, embedded by sources for retries, rate limiting,
//     error accounting and the shared HTTP client.
//   - registry: connector types mapped to factories, plus tracked instances.
//   - sources: linkedin_ads and the deterministic sample source.
//   - destinations: flat file, relational, BigQuery and Athena adapters
//     selected by destination category.
//   - chunking: date range splitting for report endpoints.
//
// A source is created through the registry and read through a MessageStream:
//
//	reg := registry.NewRegistry()
//	_ = registry.RegisterAll(reg)
//	inst, err := reg.Create(&core.ConnectorConfig{Type: core.ConnectorTypeSample}, config.NewSyncConfig())
//	if err != nil {
//	    return err
//	}
//	defer reg.Release(inst.Key)
//	catalog, err := inst.Connector.Discover(ctx)
package connector
