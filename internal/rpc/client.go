// Package rpc layers a correlated call/response protocol and typed chat and
// terminal wrappers on top of the transport's single duplex channel (spec
// §4.4). It owns no channel state itself; all connection lifecycle lives in
// the transport underneath it.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/gatewayrt/internal/frame"
	"github.com/ashureev/gatewayrt/internal/gatewayerr"
	"github.com/ashureev/gatewayrt/internal/reqreg"
	"github.com/ashureev/gatewayrt/internal/transport"
	"github.com/ashureev/gatewayrt/internal/wire"
)

type eventSub struct {
	id       int
	listener func(wire.RPCEvent)
}

// Client issues correlated RPC calls over a Transport and exposes the
// chat and terminal method wrappers named in spec §4.4 and §6.
type Client struct {
	tr     *transport.Transport
	ids    reqreg.IDGenerator
	logger *slog.Logger

	subMu     sync.Mutex
	nextSubID int
	events    []eventSub
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithIDGenerator overrides the default UUID request-id generator.
func WithIDGenerator(g reqreg.IDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New wraps tr with a Client and begins listening for inbound text frames.
func New(tr *transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:     tr,
		ids:    reqreg.UUIDGenerator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	tr.OnText(c.handleText)
	return c
}

// Transport returns the underlying transport, for callers that need state
// or lifecycle control (Start, Stop, SetConnection, OnStateChange).
func (c *Client) Transport() *transport.Transport {
	return c.tr
}

// OnEvent subscribes to server-pushed events. The returned func
// unsubscribes.
func (c *Client) OnEvent(listener func(wire.RPCEvent)) func() {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.events = append(c.events, eventSub{id: id, listener: listener})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.events {
			if s.id == id {
				c.events = append(c.events[:i], c.events[i+1:]...)
				break
			}
		}
	}
}

// OnBinaryMessage subscribes to inbound binary frames; it is a thin
// passthrough to the transport so callers only need to import this
// package.
func (c *Client) OnBinaryMessage(listener func([]byte)) func() {
	return c.tr.OnBinary(listener)
}

// OnStateChange subscribes to transport state transitions; a thin
// passthrough for the same reason as OnBinaryMessage.
func (c *Client) OnStateChange(listener func(transport.State)) func() {
	return c.tr.OnStateChange(listener)
}

// SendBinary sends raw, unframed bytes. Requires the transport to be
// connected.
func (c *Client) SendBinary(data []byte) error {
	return c.tr.SendBinary(data)
}

func (c *Client) handleText(data []byte) {
	kind, err := wire.Classify(data)
	if err != nil {
		c.logger.Warn("dropping unclassifiable rpc frame", "error", err)
		return
	}
	switch kind {
	case wire.KindRPCResponse:
		c.handleResponse(data)
	case wire.KindRPCEvent:
		c.handleEvent(data)
	case wire.KindRPCRequest:
		c.logger.Debug("ignoring server-initiated request frame; unsupported")
	default:
		c.logger.Debug("ignoring handshake frame on rpc text path", "kind", kind)
	}
}

func (c *Client) handleResponse(data []byte) {
	var resp wire.RPCResponse
	if err := frame.DecodeText(data, &resp); err != nil {
		c.logger.Warn("dropping malformed rpc response", "error", err)
		return
	}
	id, err := resp.IDString()
	if err != nil {
		c.logger.Warn("dropping rpc response with unreadable id", "error", err)
		return
	}
	if resp.Error != nil {
		c.tr.Registry().Reject(id, &gatewayerr.RPCError{Code: resp.Error.Code, Message: resp.Error.Message})
		return
	}
	c.tr.Registry().Resolve(id, resp.Result)
}

func (c *Client) handleEvent(data []byte) {
	var ev wire.RPCEvent
	if err := frame.DecodeText(data, &ev); err != nil {
		c.logger.Warn("dropping malformed rpc event", "error", err)
		return
	}

	c.subMu.Lock()
	listeners := make([]func(wire.RPCEvent), len(c.events))
	for i, s := range c.events {
		listeners[i] = s.listener
	}
	c.subMu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Call issues a correlated request and blocks until the matching response
// arrives, the channel closes (ConnectionClosed), or ctx is done.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.tr.State() != transport.StateConnected {
		return nil, gatewayerr.ErrNotConnected
	}

	var paramsRaw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gatewayerr.ErrSerialization, err)
		}
		paramsRaw = encoded
	}

	id := c.ids.NextID()
	result := make(chan callResult, 1)
	c.tr.Registry().Set(id, reqreg.Pending{
		Resolve: func(r json.RawMessage) { result <- callResult{value: r} },
		Reject:  func(err error) { result <- callResult{err: err} },
	})

	req := wire.RPCRequest{Type: wire.KindRPCRequest, ID: id, Method: method, Params: paramsRaw}
	if err := c.tr.SendText(req); err != nil {
		c.tr.Registry().Reject(id, err)
		return nil, err
	}

	select {
	case res := <-result:
		return res.value, res.err
	case <-ctx.Done():
		c.tr.Registry().Reject(id, ctx.Err())
		return nil, ctx.Err()
	}
}

type callResult struct {
	value json.RawMessage
	err   error
}
