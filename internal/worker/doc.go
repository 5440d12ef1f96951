// Package worker implements the runtime a partition's worker runs inside:
// bind a local HTTP server, announce the bound address to the coordinator,
// serve until told to stop, and hand back a result.
//
// # Lifecycle
//
// Every Run call walks one partition through the same stages:
//
//	┌──────────┐   ┌─────────┐   ┌────────────┐   ┌─────────┐   ┌────────────┐
//	│ ASSIGNED │──▶│  BOUND  │──▶│ REGISTERED │──▶│ SERVING │──▶│ TERMINATED │
//	└──────────┘   └─────────┘   └────────────┘   └─────────┘   └────────────┘
//	 partition      listener       coordinator      blocks        result hook
//	 and records    bound, init    accepted the     until the     produces the
//	 assigned       hook ran       registration     shutdown      return value
//	                                                command
//
// Binding picks the requested port or an ephemeral one, then the init hook
// runs exactly once with the partition's records and the bound network
// context. Registration posts the advertised address to the coordinator and
// retries transient network failures with exponential backoff; a rejected
// registration (any non-2xx answer, a bad token included) fails the
// lifecycle immediately, and a worker that never registered never serves.
//
// # Control surface
//
// While serving, every worker answers two control routes:
//
//	/control/ping      200 for any method, used by liveness probes
//	/control/shutdown  POST with the cluster token, stops the worker
//
// A valid shutdown command fires the shutdown observer hook once, before
// serving winds down. Cancelling the Run context also ends serving, but
// that is engine-level teardown and does not count as a shutdown command.
//
// # Raw and routed variants
//
// NewServer builds the raw variant: control routes only, application
// behavior supplied through the hooks. NewAppServer additionally mounts a
// caller-supplied http.Handler under the fixed /app prefix, stripped before
// the handler sees the path.
//
// # Sharing one template
//
// The execution engine dispatches a single configured template once per
// partition, concurrently. Run keeps all per-partition state local (each
// call owns its HTTP server, mux, and hooks' arguments), so one Server
// value serves any number of simultaneous Run calls. Configure must finish
// before the first dispatch.
package worker
