// Package reqreg holds pending correlated RPC requests by id, resolving or
// rejecting them exactly once, and bulk-rejecting the lot when the owning
// transport's channel closes.
package reqreg

import (
	"encoding/json"
	"sync"

	"github.com/ashureev/gatewayrt/internal/gatewayerr"
)

// Pending is the resolve/reject pair stored for one in-flight call.
type Pending struct {
	Resolve func(json.RawMessage)
	Reject  func(error)
}

// Registry is the transport-owned table of pending requests, keyed by
// request id. Safe for concurrent use: the transport's read loop resolves
// entries while the RPC client's call sites create them.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Pending
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{pending: make(map[string]Pending)}
}

// Set stores a pending call under id. A second Set for the same id
// overwrites the first — callers are expected to use collision-resistant
// ids (spec §4.2).
func (r *Registry) Set(id string, p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = p
}

// Resolve delivers a successful result to the pending call registered under
// id. A second Resolve/Reject for the same id, or one with no matching
// entry, is a no-op.
func (r *Registry) Resolve(id string, result json.RawMessage) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok && p.Resolve != nil {
		p.Resolve(result)
	}
}

// Reject delivers a failure to the pending call registered under id.
func (r *Registry) Reject(id string, err error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok && p.Reject != nil {
		p.Reject(err)
	}
}

// RejectAll fails every pending call with err and empties the table. Called
// on channel close or gateway URL change (spec invariant: after this call,
// the pending table is empty).
func (r *Registry) RejectAll(err error) {
	r.mu.Lock()
	stolen := r.pending
	r.pending = make(map[string]Pending)
	r.mu.Unlock()

	for _, p := range stolen {
		if p.Reject != nil {
			p.Reject(err)
		}
	}
}

// Len reports the number of in-flight requests. Used by tests asserting
// the post-close invariant.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CloseError is the sentinel error RejectAll is conventionally invoked
// with on channel close.
var CloseError = gatewayerr.ErrConnectionClosed
