// Package journal records what an import run did to each configuration
// object.
//
// The package provides:
//   - Writer/Reader for per-run Parquet journal files
//   - Stats for apply-latency quantiles (DDSketch) and outcome counts
//   - Journal, which ties both together for a single run
package journal
