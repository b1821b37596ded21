// Package wire defines the JSON frames exchanged with the gateway over the
// single duplex message channel: the handshake frames, correlated RPC
// request/response envelopes, and fire-and-forget event envelopes.
package wire

import "encoding/json"

// ProtocolRange advertises the client's supported protocol versions.
type ProtocolRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ClientHello is the first frame sent once the channel is open.
type ClientHello struct {
	Protocol     ProtocolRange `json:"protocol"`
	ClientID     string        `json:"client_id"`
	AuthToken    string        `json:"auth_token,omitempty"`
	Capabilities []string      `json:"capabilities"`
}

// ServiceDescriptor advertises one gateway-side service and its version.
type ServiceDescriptor struct {
	Service string `json:"service"`
	Version int    `json:"version"`
}

// ServerHello is the gateway's handshake acceptance.
type ServerHello struct {
	Type            string              `json:"type"`
	ServerID        string              `json:"server_id"`
	ProtocolVersion int                 `json:"protocol_version"`
	Identity        string              `json:"identity,omitempty"`
	Services        []ServiceDescriptor `json:"services"`
}

// HelloReject is the gateway's handshake refusal. Terminal: no reconnect.
type HelloReject struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// RPCRequest is a client-to-server correlated call.
type RPCRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is the error shape carried by an RPCResponse.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MethodNotFoundCode is the reserved RPC error code that means a capability
// is soft-absent on the gateway (e.g. optional tmux support), not a hard
// failure.
const MethodNotFoundCode = -32601

// Error implements the error interface so an *RPCError can be returned or
// wrapped directly by callers.
func (e *RPCError) Error() string {
	return e.Message
}

// RPCResponse is the server's reply to an RPCRequest. ID echoes the request
// id; the wire id may arrive as a JSON string or number, so it is decoded
// loosely and coerced to a string for request-registry lookup.
type RPCResponse struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// IDString coerces the response id (string or number on the wire) to a
// string for request-registry lookup.
func (r *RPCResponse) IDString() (string, error) {
	return rawIDToString(r.ID)
}

func rawIDToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// RPCEvent is a server-pushed, fire-and-forget notification.
type RPCEvent struct {
	Topic  string          `json:"topic"`
	Params json.RawMessage `json:"params,omitempty"`
}

// envelopeType peeks at the "type" field of an inbound text frame to decide
// whether it is a handshake frame, an RPC response, or (absent a type) an
// event. Events carry "topic" instead of "type".
type envelopeType struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Classify inspects a decoded text frame and reports which wire message it
// is. It returns an error for invalid JSON and for an envelope with neither
// a known type nor a topic; callers treat either as a malformed frame to
// drop, per the error taxonomy.
func Classify(data []byte) (kind string, err error) {
	var env envelopeType
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	switch {
	case env.Type == "hello":
		return KindServerHello, nil
	case env.Type == "reject":
		return KindHelloReject, nil
	case env.Type == "response":
		return KindRPCResponse, nil
	case env.Type == "request":
		return KindRPCRequest, nil
	case env.Topic != "":
		return KindRPCEvent, nil
	default:
		return "", errUnclassifiable
	}
}

// Frame kinds returned by Classify.
const (
	KindServerHello = "hello"
	KindHelloReject = "reject"
	KindRPCResponse = "response"
	KindRPCRequest  = "request"
	KindRPCEvent    = "event"
)

var errUnclassifiable = classifyError("wire: frame has neither type nor topic")

type classifyError string

func (e classifyError) Error() string { return string(e) }
