// Package engine dispatches partition runs and collects their results.
//
// # Overview
//
// An Engine takes a Dataset and a PartitionFunc and guarantees the
// function runs exactly once per partition, concurrently up to the
// engine's slot budget. It is the partfleet stand-in for whatever
// cluster scheduler a deployment really sits on: the in-process Local
// engine covers tests and single-machine runs, while alternative
// implementations can submit the same PartitionFunc to an external
// scheduler without the rest of the system noticing.
//
// # Execution model
//
//	Run(ctx, ds, fn)
//	  │
//	  ├── goroutine: fn(ctx, 0, ds.Partition(0))
//	  ├── goroutine: fn(ctx, 1, ds.Partition(1))   ≤ slots at a time
//	  ├── goroutine: fn(ctx, 2, ds.Partition(2))
//	  └── Wait ──► []PartitionResult ordered by partition
//
// A failing partition records its error in that partition's result slot
// and never cancels its siblings; every partition gets its chance to
// run. The aggregate error returned by Run combines the per-partition
// failures, so callers can treat any non-nil error as "at least one
// partition failed" and still inspect the survivors.
//
// Cancelling the context is the one way to stop early: queued
// partitions fail their slot acquisition and running ones observe the
// cancellation through the context handed to fn.
//
// # Slots
//
// Slots bound concurrency with a weighted semaphore. A zero or negative
// slot count means unbounded. Orchestration layers use Slots to refuse
// barrier waits that could never be satisfied, so implementations must
// report their true bound.
package engine
