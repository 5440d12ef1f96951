package coordinator

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/partfleet/internal/control"
)

// Event describes one accepted registration, captured inside the
// registry's critical section and delivered to the observer after the
// mutation is committed.
//
// Events carry everything an observer needs to react without touching
// the registry again:
//   - Which partition registered
//   - The address it replaced, if this was a re-registration
//   - The address it registered with
//   - Whether this registration completed the expected fleet
//
// Thread Safety:
// Event values are immutable snapshots. Previous points at a private
// copy, never at registry state.
type Event struct {
	// Previous is the address this registration replaced, or nil when
	// the partition registered for the first time.
	Previous *control.HostPort

	// Address is the advertised address the partition registered with.
	Address control.HostPort

	// Partition is the registered partition index.
	Partition int

	// FullCluster reports whether the registry held exactly the
	// expected number of partitions after this registration committed.
	// Always false when the registry has no expectation.
	FullCluster bool
}

// Observer receives registration events in commit order. It runs on the
// registration-handling goroutine, so it must not block indefinitely and
// must not call back into the registry's mutating operations.
type Observer func(Event)

// Registry is the coordinator's partition-to-address map, tracking which
// partitions have announced themselves and whether the fleet is complete.
//
// The registry guarantees:
//   - Registration, the partition count, and the full-cluster flag are
//     updated in one critical section, so no reader observes a count and
//     flag from different generations
//   - The full flag latches: once true it stays true until Reset
//   - Observer events leave in the order registrations were serialized
//
// Concurrency Model:
//   - mu guards all state; every operation is safe for concurrent use
//   - Snapshots are value copies, so callers can't mutate shared state
//   - emitMu serializes observer delivery without holding mu across the
//     callback, so observers may read (but never mutate) the registry
//
// Example:
//
//	registry := NewRegistry(3)
//	registry.SetObserver(func(ev Event) {
//	    log.Printf("partition %d at %s", ev.Partition, ev.Address)
//	})
//	registry.Register(0, control.HostPort{Host: "10.0.0.5", Port: 39211})
type Registry struct {
	// hosts maps partition indexes to their advertised addresses.
	// A partition absent from the map has not registered (or was shut
	// down) since the last reset.
	hosts map[int]control.HostPort

	// observer receives post-commit registration events. May be nil.
	observer Observer

	// expected is the partition count that completes the fleet.
	// Zero means no expectation; the full flag then never latches.
	expected int

	// full latches true when len(hosts) reaches expected.
	full bool

	// mu guards hosts, observer, and full.
	mu sync.Mutex

	// emitMu is acquired before mu is released on the registration
	// path, which hands events to the observer in commit order.
	emitMu sync.Mutex
}

// NewRegistry creates a registry expecting the given partition count.
// Zero means no expectation: the full flag never latches and the wire
// representation reports null for both expectation fields.
func NewRegistry(expectedPartitions int) *Registry {
	if expectedPartitions < 0 {
		expectedPartitions = 0
	}
	return &Registry{
		hosts:    make(map[int]control.HostPort),
		expected: expectedPartitions,
	}
}

// SetObserver replaces the registration observer. A nil observer
// disables delivery. Events for registrations already in flight may
// still reach the previous observer.
func (r *Registry) SetObserver(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Register records a partition's advertised address, overwriting any
// previous address for the same partition, and recomputes the
// full-cluster flag in the same critical section.
//
// The returned Event mirrors what the observer receives. Re-registration
// is legal and expected: a worker that restarts on a new port simply
// registers again, and the event carries the replaced address.
//
// Thread Safety:
// Safe for concurrent use. Concurrent registrations are serialized by
// the registry mutex, and their events are delivered in that order.
func (r *Registry) Register(partition int, addr control.HostPort) Event {
	r.mu.Lock()

	var prev *control.HostPort
	if old, ok := r.hosts[partition]; ok {
		prevCopy := old
		prev = &prevCopy
	}
	r.hosts[partition] = addr
	if r.expected > 0 && len(r.hosts) == r.expected {
		r.full = true
	}

	ev := Event{
		Partition:   partition,
		Previous:    prev,
		Address:     addr,
		FullCluster: r.full,
	}
	observer := r.observer

	// Taking the emit guard before giving up the registry lock pins
	// delivery to commit order.
	r.emitMu.Lock()
	r.mu.Unlock()
	if observer != nil {
		observer(ev)
	}
	r.emitMu.Unlock()

	return ev
}

// Get returns the registered address for a partition.
func (r *Registry) Get(partition int) (control.HostPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.hosts[partition]
	return addr, ok
}

// Remove deletes a partition's entry, returning the address it held.
// Removing an absent partition is a no-op. The full flag is not
// recomputed: it only ever clears through Reset.
func (r *Registry) Remove(partition int) (control.HostPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.hosts[partition]
	if ok {
		delete(r.hosts, partition)
	}
	return addr, ok
}

// Reset clears every entry and un-latches the full flag, returning the
// registry to its initial state. Used after a shutdown fan-out.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = make(map[int]control.HostPort)
	r.full = false
}

// Hosts returns a value copy of the discovery map.
func (r *Registry) Hosts() map[int]control.HostPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	hosts := make(map[int]control.HostPort, len(r.hosts))
	for partition, addr := range r.hosts {
		hosts[partition] = addr
	}
	return hosts
}

// Snapshot returns the discovery map together with the expectation and
// full flag observed in one critical section.
func (r *Registry) Snapshot() (hosts map[int]control.HostPort, expected int, full bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hosts = make(map[int]control.HostPort, len(r.hosts))
	for partition, addr := range r.hosts {
		hosts[partition] = addr
	}
	return hosts, r.expected, r.full
}

// Partitions returns the registered partition indexes in ascending
// order. The fan-out paths iterate this snapshot rather than the live
// map.
func (r *Registry) Partitions() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	partitions := make([]int, 0, len(r.hosts))
	for partition := range r.hosts {
		partitions = append(partitions, partition)
	}
	slices.Sort(partitions)
	return partitions
}

// Len returns the number of registered partitions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

// Expected returns the partition count that completes the fleet, or
// zero when the registry has no expectation. Immutable after creation.
func (r *Registry) Expected() int {
	return r.expected
}

// Full reports whether the full flag has latched. Always false without
// an expectation.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full
}
