// Package nebulasync extracts advertising platform data and loads it into
// analytical destinations.
//
// A transfer job reads the streams of one source connector, buffers each
// stream, infers and reconciles its schema, cleans the records and writes
// them to a flat file, a PostgreSQL or MySQL table, a BigQuery table or an
// Athena external table backed by Parquet files on S3. Incremental streams
// resume from a cursor persisted after the stream is loaded.
//
// # Layout
//
//   - cmd/nebula-sync: the CLI (version, connectors, spec, check, discover, sync)
//   - internal/pipeline: extraction runner, destination sink, orchestrator and job trackers
//   - pkg/connector: source contract, base connector, registry, sources and destination adapters
//   - pkg/schema: inference, reconciliation and value cleaning
//   - pkg/state: cursor persistence (memory, PostgreSQL, MongoDB)
//   - pkg/formats/columnar and pkg/compression: file encodings
//
// # Quick Start
//
//	nebula-sync connectors
//	nebula-sync sync --config job.yaml
package nebulasync
