package cluster

import (
	"errors"
	"fmt"
)

// Phase identifies which orchestration step an error came from.
type Phase string

// Orchestration phases carried by PhaseError.
const (
	PhaseStart Phase = "start"
	PhaseAwait Phase = "await"
	PhaseStop  Phase = "stop"
)

var (
	// ErrNotActive is returned by Stop when no activation is running.
	ErrNotActive = errors.New("cluster is not active")

	// ErrBusy is returned by Start while another transition is in flight.
	ErrBusy = errors.New("cluster transition already in flight")

	// ErrInsufficientSlots is returned by Start when the engine cannot run
	// every partition's worker concurrently, which would deadlock the
	// await barrier.
	ErrInsufficientSlots = errors.New("execution engine has fewer slots than partitions")
)

// PhaseError wraps an orchestration failure with the phase it broke.
type PhaseError struct {
	Err   error
	Phase Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("cluster %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
