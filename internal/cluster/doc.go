// Package cluster drives one fleet activation end to end: it owns the
// coordinator, hands the worker template its coordinates, dispatches one
// worker per partition onto an execution engine, and tears the whole
// thing down again on command.
//
// # Overview
//
// The orchestrator is the piece a controlling process holds. Everything
// else in the system is reactive: the coordinator answers requests, the
// workers serve until told to stop, the engine runs what it is given.
// Cluster is where those parts are sequenced into an activation.
//
// # Activation lifecycle
//
// Start walks the cluster through a fixed sequence:
//
//	┌──────┐  Start   ┌──────────┐          ┌────────┐
//	│ IDLE │─────────▶│ STARTING │─────────▶│ ACTIVE │
//	└──────┘          └──────────┘          └────────┘
//	    ▲                   │ failure           │ Stop
//	    │                   ▼                   ▼
//	    │              rollback            ┌──────────┐
//	    └──────────────────────────────────│ STOPPING │
//	                                       └──────────┘
//
//	1. mint a fresh cluster token and run ID
//	2. start a coordinator expecting one registration per partition
//	3. configure the worker template with the coordinator's URL + token
//	4. dispatch the template onto the engine, one call per partition
//	5. optionally block until every partition registered (await barrier)
//
// Workers block in their serving loop, so the dispatch never finishes on
// its own: Stop commands the fleet down through the coordinator's
// shutdown fan-out, stops the coordinator, then joins the dispatch so no
// worker remains outstanding when it returns.
//
// # The await barrier
//
// Start(ctx, true) polls the coordinator's full-cluster flag until every
// partition has registered. That barrier can only clear if the engine
// runs all partitions concurrently; with fewer execution slots than
// partitions some workers would wait for slots that serving workers
// never free. Start refuses that configuration up front with
// ErrInsufficientSlots instead of hanging.
//
// A dispatch that dies while the barrier is up (every worker failing its
// init hook, say) surfaces its error from Start rather than leaving the
// caller polling forever.
//
// # Failure semantics
//
// Every failure is a PhaseError naming the phase that broke: start,
// await, or stop. A failed Start rolls back to IDLE and leaves nothing
// running. A Stop that hit delivery failures still ends IDLE with the
// registry reset; the failures ride along in the returned error. The
// state reported by Active always reflects reality.
//
// # Results
//
// With WithRetainResult, the per-partition values the workers' result
// hooks produced are kept once the dispatch completes and returned by
// Result. Without it Result always reports absent.
//
// # Usage
//
//	tmpl := worker.NewServer(worker.WithResult(resultFn))
//	c := cluster.New(engine.NewLocal(0), ds, tmpl, cluster.WithRetainResult())
//	if err := c.Start(ctx, true); err != nil {
//		return err
//	}
//	defer c.Close()
//	// ... talk to the fleet via c.Hosts() ...
//	if err := c.Stop(ctx); err != nil {
//		return err
//	}
//	results, ok := c.Result()
//
// There is no process-exit hook: pair Start with a deferred Close, which
// stops the cluster only if it is still active.
package cluster
