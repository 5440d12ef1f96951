// Package control defines the wire protocol shared by the partfleet
// coordinator, its workers, and the orchestration layer that drives both.
//
// # Overview
//
// Every service in a partfleet deployment speaks the same small HTTP/JSON
// protocol: workers register themselves with the coordinator, clients read
// the discovery map and cluster status, and the coordinator fans shutdown
// commands back out to workers. This package is the single source of truth
// for the routes, payload shapes, and client helpers that protocol uses.
//
// # Protocol
//
// Coordinator endpoints:
//
//	POST /register?token=...   worker announces partition, host, and port
//	GET  /hosts                discovery map of partition -> [host, port]
//	GET  /status               partition counts and the full-cluster flag
//	GET  /metrics              Prometheus metrics
//
// Worker endpoints:
//
//	POST /control/shutdown?token=...   stop serving after acknowledging
//	GET  /control/ping                 liveness probe, always 200
//	ANY  /app/...                      application routes, when mounted
//
// Addresses travel as two-element JSON arrays, for example:
//
//	{"hosts": {"0": ["10.0.0.5", 39211], "1": ["10.0.0.6", 40518]}}
//
// The expected_partitions and full_cluster fields are null when the
// coordinator was started without a partition expectation, so both sides
// model them as pointers.
//
// # Authentication
//
// A shared token rides on mutating requests as the "token" query
// parameter. Handlers reject a mismatch with 403 before touching any
// state; an empty configured token disables the check entirely.
//
// # See Also
//
// Related packages:
//   - internal/coordinator: serves the coordinator side of this protocol
//   - internal/worker: serves the worker side of this protocol
//   - internal/cluster: orchestrates both ends of a run
package control
