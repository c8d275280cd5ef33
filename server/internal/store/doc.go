// Package store is the persistence layer the analytics modules read from:
// device topology, signal definitions and raw samples.
//
// Two implementations are provided:
//   - Memory: a thread-safe in-memory store with optional retention-based
//     eviction, seeded from a YAML file or fed by the ingest package.
//   - Postgres: database/sql over lib/pq against a samples table (plain
//     PostgreSQL or a TimescaleDB hypertable).
//
// ReadSamples semantics are shared by both (see SampleQuery).
package store
