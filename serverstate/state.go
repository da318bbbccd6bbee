// Package serverstate tracks the gateway process's coarse lifecycle phase,
// polled by the session engine's inbound loop so in-flight connections
// notice a shutdown without a dedicated signal per session.
package serverstate

import "sync/atomic"

// State is the gateway process's lifecycle phase.
type State int32

const (
	Starting State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Tracker is the ServerState interface the engine depends on.
type Tracker interface {
	Load() State
}

// AtomicTracker is the default Tracker: a single atomic.Int32, safe to
// read from every connection's goroutine without contention.
type AtomicTracker struct {
	v atomic.Int32
}

// NewAtomicTracker returns a tracker initialized to Starting.
func NewAtomicTracker() *AtomicTracker {
	t := &AtomicTracker{}
	t.v.Store(int32(Starting))
	return t
}

func (t *AtomicTracker) Load() State {
	return State(t.v.Load())
}

// Set transitions the tracker to s.
func (t *AtomicTracker) Set(s State) {
	t.v.Store(int32(s))
}
