// Package storage implements an embedded metrics collection engine.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Registry   │────▶│  Ingestion  │────▶│   Buffer    │
//	│ (schemas)   │     │  (Record)   │     │ (per metric)│
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │                   │ Flush
//	                           ▼                   ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │ Broadcaster │     │ JSON shards │◀── Retention
//	                    │ (+ sketches)│     │  on disk    │
//	                    └─────────────┘     └─────────────┘
//	                                               │
//	                                               ▼
//	                                        ┌─────────────┐
//	                                        │    Query    │──▶ Statistics
//	                                        │ (+ Parquet) │
//	                                        └─────────────┘
//
// Producers define metrics and dimensions once, then call RecordMetric.
// Records are validated against the registry, appended to the buffer and
// handed to live subscribers without blocking. A timer (or an explicit
// Flush) swaps the buffer out and writes one shard file; queries only ever
// read shards. A second timer records host CPU and memory gauges through
// the same path, and a third deletes shards past the retention period.
//
// Stop halts all three timers and does not flush.
package storage
