// Package dataset defines the partitioned record collections that
// partfleet runs fan out over, plus an in-memory implementation for
// embedding datasets directly in a driver program.
//
// # Overview
//
// A Dataset is nothing more than a fixed number of partitions, each of
// which can be iterated once per run. The engine assigns one partition to
// each worker invocation; the worker template decides what the records
// mean. Records are opaque byte slices so callers can carry JSON, raw
// text, or any serialized form without the package caring.
//
// # Core Interfaces
//
// Dataset: a partitioned collection
//   - NumPartitions() - fixed partition count
//   - Partition(i) - fresh iterator over partition i
//
// Iterator: one pass over one partition
//   - Next() - next record and an exhaustion flag
//
// Iterators are single-use and not safe for concurrent use; the engine
// requests a fresh one per partition run, so implementations must allow
// Partition to be called more than once for the same index.
//
// # Implementations
//
// Slices: in-memory partitions backed by [][]byte
//   - Records are copied on ingest and on read, so neither the caller's
//     buffers nor the stored ones can be mutated through the other side
//   - Suitable for tests, examples, and small driver-side datasets
//   - Out-of-range partition indexes yield an empty iterator
//
// Larger deployments are expected to implement Dataset over whatever
// source they stage records in; the engine and workers only see the two
// interfaces above.
package dataset
