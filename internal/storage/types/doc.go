// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - MetricDefinition / DimensionDefinition: schemas that gate ingestion
//   - Sample: a single timestamped, dimension-tagged observation
//   - Shard: the persisted unit produced by one flush
//   - Summary: live running statistics for a metric
package types
