// Package kvapp is a partition-local key-value application for partfleet
// workers. It is the stock payload mounted under the worker app prefix:
// each partition owns an independent in-memory store, and clients route
// keys to partitions with the same hash both sides agree on.
//
// # Overview
//
// A fleet of workers becomes a sharded key-value service by giving every
// partition its own App:
//
//	┌──────────┐   /app/kv/alpha    ┌──────────────────┐
//	│  client   │ ─────────────────▶ │ worker, part 2   │
//	│           │                    │  App ▸ Store     │
//	└──────────┘                    └──────────────────┘
//	     │
//	     └── PartitionFor("alpha", n) picks the worker to talk to
//
// The coordinator's hosts snapshot supplies the partition -> address map;
// PartitionFor supplies the key -> partition map. Neither side stores the
// other's half, so any process that can reach the coordinator can route.
//
// # Routes
//
// App serves three route families, all relative to the app prefix:
//
//	GET    /kv/{key}   value bytes, 404 when absent
//	PUT    /kv/{key}   store the request body, 204
//	DELETE /kv/{key}   forget the key, 204 (idempotent)
//	GET    /keys       JSON array of keys, sorted
//	GET    /stats      JSON counters for this partition
//
// # Concurrency
//
// Store guards its map with an RWMutex and copies values on both ends, so
// a caller can never alias the stored bytes. Operation counters are
// atomics and may be read while writes are in flight.
//
// # Scope
//
// Keys live in memory and die with the worker. There is no replication
// and no rebalancing: a key's partition is fixed by its hash for the
// lifetime of the fleet.
package kvapp
