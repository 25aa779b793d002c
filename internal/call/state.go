// Package call implements call lifecycle control: a lock-free state machine,
// a non-blocking controller for starting and hanging up calls, and bounded
// supervision of session teardown.
//
// The controller's contract is that StartCall and Hangup return in
// microseconds; all slow work (connecting, closing network sessions) happens
// on worker goroutines. Teardown is supervised with a hard ceiling: if the
// provider's close handshake hangs, the call is declared over anyway and the
// straggler goroutine is abandoned to finish on its own.
package call

import "sync/atomic"

// State is the lifecycle state of the (single) call.
type State int32

const (
	// Idle means no call exists and none is being set up.
	Idle State = iota

	// Starting means a worker is establishing the session. Audio is not
	// flowing yet.
	Starting

	// Active means the session is live and audio is flowing.
	Active

	// Ending means a hangup is in progress: audio is being silenced and the
	// session torn down.
	Ending
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Ending:
		return "ending"
	default:
		return "unknown"
	}
}

// StateCell is an atomic holder for a State. The zero value is Idle.
//
// Every transition goes through CompareAndSwap, so concurrent actors (the
// start worker, hangup callers, the UI reading status) race safely: exactly
// one CAS wins and the losers observe the new state.
type StateCell struct {
	v atomic.Int32
}

// Load returns the current state.
func (c *StateCell) Load() State {
	return State(c.v.Load())
}

// Store unconditionally sets the state.
func (c *StateCell) Store(s State) {
	c.v.Store(int32(s))
}

// CompareAndSwap transitions from old to new if the cell still holds old.
// Returns true if the swap happened.
func (c *StateCell) CompareAndSwap(old, new State) bool {
	return c.v.CompareAndSwap(int32(old), int32(new))
}
