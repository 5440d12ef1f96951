package engine

import (
	"context"

	"github.com/dreamware/partfleet/internal/dataset"
)

// PartitionFunc processes one partition of a dataset and returns that
// partition's contribution to the run result. Implementations must be
// safe for concurrent invocation with distinct partition indexes.
type PartitionFunc func(ctx context.Context, partition int, records dataset.Iterator) ([]byte, error)

// PartitionResult is the outcome of a single partition run.
type PartitionResult struct {
	Partition int
	Value     []byte
	Err       error
}

// Engine runs a PartitionFunc across every partition of a dataset.
type Engine interface {
	// Slots reports the maximum number of partitions the engine runs
	// concurrently. Zero or negative means unbounded.
	Slots() int

	// Run invokes fn exactly once per partition and returns results
	// ordered by partition index. The returned error aggregates the
	// per-partition failures; results are complete either way.
	Run(ctx context.Context, ds dataset.Dataset, fn PartitionFunc) ([]PartitionResult, error)
}
