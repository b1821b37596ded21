package transport

// State is the transport's current position in the connection lifecycle
// (spec §3). Exactly one state holds at a time; every transition emits a
// snapshot to all state listeners, including a synchronous emit on
// subscription.
type State int

const (
	// StateDisconnected is the initial state and the state reached after a
	// recoverable close.
	StateDisconnected State = iota
	// StateConnecting means the channel is being opened.
	StateConnecting
	// StateHandshaking means the channel is open and ClientHello has been
	// sent; waiting on ServerHello or HelloReject.
	StateHandshaking
	// StateConnected means the handshake completed successfully.
	StateConnected
	// StateError is a recoverable sink state: a channel error occurred and
	// a reconnect will be scheduled.
	StateError
	// StateRejected is the non-recoverable sink state: the server refused
	// the handshake. No reconnect is scheduled.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
