// This package contains the websocket Connection capability interface and its implementation on
// top of a raw net.Conn: connection lifecycle state machine, application level liveness state,
// serialized writes and idempotent disconnect.
package wsconn

import "fmt"

// Lifecycle state of a connection.
//
// Connecting -> [Authorizing] -> Upgrading -> Open -> Closing -> Closed
//
// Authorizing is only used by authenticated servers. Closed is terminal and can be reached from
// any state. No state can be entered twice.
type State int32

const (
	Connecting State = iota
	Authorizing
	Upgrading
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authorizing:
		return "authorizing"
	case Upgrading:
		return "upgrading"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Return true if the transition from s to next is allowed.
func (s State) canTransitionTo(next State) bool {
	switch next {
	case Authorizing:
		return s == Connecting
	case Upgrading:
		return s == Connecting || s == Authorizing
	case Open:
		return s == Upgrading
	case Closing:
		return s < Closing
	case Closed:
		return s != Closed
	default:
		return false
	}
}

// Application level liveness state of a connection.
type LivenessState int32

const (
	// No liveness probe pending.
	Pristine LivenessState = iota
	// A "Ping" text was sent and no "pong" answer has been received yet.
	Pinged
)

func (s LivenessState) String() string {
	if s == Pinged {
		return "pinged"
	}
	return "pristine"
}
