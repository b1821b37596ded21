// Package gatewayerr holds the sentinel error taxonomy shared by the
// transport, RPC client, and session coordinator (spec §7).
package gatewayerr

import "errors"

var (
	// ErrNotConnected is returned when a call is attempted before the
	// transport reaches the connected state.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionClosed is the failure every pending request is rejected
	// with when the channel closes or the gateway URL changes.
	ErrConnectionClosed = errors.New("gateway: connection closed")

	// ErrHandshakeTimeout means the server produced neither a hello nor a
	// reject before the handshake timer expired. Recoverable: the channel
	// closes and a reconnect is scheduled.
	ErrHandshakeTimeout = errors.New("gateway: handshake timeout")

	// ErrHelloRejected means the server refused the handshake. Terminal:
	// no reconnect is scheduled.
	ErrHelloRejected = errors.New("gateway: hello rejected")

	// ErrProtocolMalformed means a frame failed to parse, or was missing a
	// required field. The frame is dropped; the channel is preserved.
	ErrProtocolMalformed = errors.New("gateway: malformed protocol frame")

	// ErrSerialization means an outbound JSON encoding failed. The pending
	// request is rejected; the channel is preserved.
	ErrSerialization = errors.New("gateway: outbound serialization failed")

	// ErrInvalidURL means the configured gateway URL does not use ws:// or
	// wss://.
	ErrInvalidURL = errors.New("gateway: invalid url")
)

// RPCError is a server-originated call failure (spec's RpcError taxonomy
// entry), carrying the wire error code and message.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// IsUnsupported reports whether err is an *RPCError carrying the reserved
// "method not found" code. Callers treat this as a soft-absent capability
// (e.g. optional tmux support) rather than a hard failure.
func IsUnsupported(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == MethodNotFoundCode
	}
	return false
}

// MethodNotFoundCode mirrors wire.MethodNotFoundCode; duplicated here (as a
// plain constant, not an import) to keep this package free of a dependency
// on the wire package.
const MethodNotFoundCode = -32601
