// Package parquet writes and reads exported sample sets as Parquet files.
//
// Shards stay JSON; Parquet is only used for exports, where columnar
// compression and tool interoperability matter. Dimensions are stored as a
// repeated key/value group in key order.
package parquet
