// Package coordinator implements the partfleet coordination service: the
// registration endpoint workers announce themselves to, the discovery map
// clients read, and the control fan-out that tears a worker fleet down.
//
// # Overview
//
// A partfleet run revolves around one coordinator. Workers come up on
// ephemeral ports scattered across a cluster, so nothing but the worker
// itself knows its own address; the coordinator exists to collect those
// addresses, decide when the fleet is complete, and later deliver the
// shutdown command to every member. It deliberately stores intent, not
// liveness: an entry means "this partition announced itself", and only an
// explicit shutdown removes it.
//
// # Architecture
//
//	                ┌───────────────────────────┐
//	   register ───►│        Server             │
//	   /hosts   ───►│  ┌─────────────────────┐  │
//	   /status  ───►│  │      Registry       │  │
//	   /metrics ───►│  │ partition → address │  │
//	                │  │ expected, full flag │  │
//	                │  └─────────────────────┘  │
//	                │  LivenessMonitor (opt.)   │
//	                └─────────────┬─────────────┘
//	                              │ POST /control/shutdown
//	                ┌─────────────┼─────────────┐
//	                ▼             ▼             ▼
//	           ┌─────────┐   ┌─────────┐   ┌─────────┐
//	           │worker 0 │   │worker 1 │   │worker 2 │
//	           └─────────┘   └─────────┘   └─────────┘
//
// # Core Components
//
// Registry: the mutex-guarded partition map
//   - One critical section covers the insert, the partition count, and
//     the full-cluster recomputation, so no reader can observe a count
//     and flag from different generations
//   - Emits an Event per accepted registration, delivered to the
//     observer strictly after commit and strictly in commit order
//   - Value-copy snapshots keep callers from mutating shared state
//
// Server: the HTTP surface and control fan-out
//   - POST /register with token enforcement (403 before any mutation)
//   - GET /hosts and /status, readable without a token
//   - GET /metrics for Prometheus scrapes
//   - ShutdownWorker / ShutdownAll deliver remote shutdown commands
//
// LivenessMonitor: optional background probing
//   - Periodically GETs each registered worker's /control/ping
//   - Marks workers unreachable after consecutive failures and reports
//     transitions via callback and gauge
//   - Strictly observational: never mutates the registry
//
// # Full-cluster semantics
//
// When the coordinator is created with an expected partition count, the
// full flag latches true the moment the registry holds exactly that many
// partitions. It never falls back to false on its own, not even if a
// probe later finds a worker dead; only ShutdownAll's reset clears it.
// Without an expectation both expected_partitions and full_cluster are
// null on the wire, and the flag is meaningless internally.
//
// # Shutdown fan-out
//
// ShutdownAll snapshots the partition set once, posts the shutdown
// command to every member concurrently, waits for all of them, then
// resets the registry. A worker that cannot be reached still leaves the
// registry; its failure is aggregated into the returned error rather
// than blocking the teardown. Workers that register after the snapshot
// are wiped by the reset like everything else.
//
// # Concurrency Model
//
//   - Registry state lives under a single mutex; handlers and fan-out
//     code take value snapshots and never hold the lock across I/O
//   - The observer runs on the registration-handling goroutine, so it
//     must not block indefinitely and must not call back into the
//     registry's mutating operations
//   - ShutdownAll's fan-out runs one goroutine per worker and joins all
//     of them before resetting
//
// # See Also
//
// Related packages:
//   - internal/control: wire types and routes this package serves
//   - internal/worker: the process on the other end of the fan-out
//   - internal/cluster: starts and stops coordinators around runs
package coordinator
