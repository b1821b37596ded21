package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gatewayrt/internal/frame"
	"github.com/ashureev/gatewayrt/internal/gatewayerr"
	"github.com/ashureev/gatewayrt/internal/transport"
	"github.com/ashureev/gatewayrt/internal/wire"
)

// fakeConn is a minimal in-memory transport.Conn so these tests can drive a
// real Client over a real Transport without a network socket.
type fakeConn struct {
	mu     sync.Mutex
	inbox  chan fakeFrame
	closed bool
	sent   []fakeFrame
}

type fakeFrame struct {
	mt   transport.MessageType
	data []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan fakeFrame, 64)}
}

func (c *fakeConn) Read(ctx context.Context) (transport.MessageType, []byte, error) {
	select {
	case f, ok := <-c.inbox:
		if !ok {
			return 0, nil, gatewayerr.ErrConnectionClosed
		}
		return f.mt, f.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, mt transport.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gatewayerr.ErrConnectionClosed
	}
	c.sent = append(c.sent, fakeFrame{mt: mt, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func (c *fakeConn) deliver(mt transport.MessageType, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox <- fakeFrame{mt: mt, data: data}
}

func (c *fakeConn) lastSentRequest(t *testing.T) wire.RPCRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no frame sent")
	}
	var req wire.RPCRequest
	if err := json.Unmarshal(c.sent[len(c.sent)-1].data, &req); err != nil {
		t.Fatalf("decode sent request: %v", err)
	}
	return req
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (transport.Conn, error) {
	return d.conn, nil
}

func serverHelloFrame(t *testing.T) []byte {
	t.Helper()
	data, err := frame.EncodeText(struct {
		Type            string `json:"type"`
		ServerID        string `json:"server_id"`
		ProtocolVersion int    `json:"protocol_version"`
	}{Type: "hello", ServerID: "srv-1", ProtocolVersion: 1})
	if err != nil {
		t.Fatalf("encode server hello: %v", err)
	}
	return data
}

func newConnectedClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	conn.deliver(transport.MessageText, serverHelloFrame(t))

	tr := transport.New(transport.Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})
	client := New(tr)

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && tr.State() != transport.StateConnected {
		time.Sleep(time.Millisecond)
	}
	if tr.State() != transport.StateConnected {
		t.Fatalf("transport did not reach connected, stuck at %s", tr.State())
	}
	return client, conn
}

// TestCallResolvesOnResult verifies a Call unblocks with the result payload
// once the matching response frame arrives.
func TestCallResolvesOnResult(t *testing.T) {
	client, conn := newConnectedClient(t)

	resultCh := make(chan struct {
		result json.RawMessage
		err    error
	}, 1)
	go func() {
		result, err := client.Call(context.Background(), "chat.list", nil)
		resultCh <- struct {
			result json.RawMessage
			err    error
		}{result, err}
	}()

	deadline := time.Now().Add(time.Second)
	var req wire.RPCRequest
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		n := len(conn.sent)
		conn.mu.Unlock()
		if n > 0 {
			req = conn.lastSentRequest(t)
			break
		}
		time.Sleep(time.Millisecond)
	}
	if req.Method != "chat.list" {
		t.Fatalf("expected chat.list request sent, got %+v", req)
	}

	respData, err := frame.EncodeText(struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
	}{Type: "response", ID: req.ID, Result: json.RawMessage(`{"chats":[]}`)})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	conn.deliver(transport.MessageText, respData)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if string(res.result) != `{"chats":[]}` {
			t.Fatalf("unexpected result: %s", res.result)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for call to resolve")
	}
}

// TestCallRejectsOnRPCError verifies an error response rejects the call
// with an *gatewayerr.RPCError carrying the wire code and message.
func TestCallRejectsOnRPCError(t *testing.T) {
	client, conn := newConnectedClient(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "chat.cancel", nil)
		resultCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	var req wire.RPCRequest
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		n := len(conn.sent)
		conn.mu.Unlock()
		if n > 0 {
			req = conn.lastSentRequest(t)
			break
		}
		time.Sleep(time.Millisecond)
	}

	respData, err := frame.EncodeText(struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{Type: "response", ID: req.ID, Error: struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: wire.MethodNotFoundCode, Message: "no such method"}})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	conn.deliver(transport.MessageText, respData)

	select {
	case gotErr := <-resultCh:
		if gotErr == nil {
			t.Fatal("expected an error")
		}
		if !IsUnsupported(gotErr) {
			t.Fatalf("expected IsUnsupported to recognize -32601, got %v", gotErr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for call to reject")
	}
}

// TestCallFailsWhenNotConnected verifies Call returns ErrNotConnected
// immediately without registering a pending request, when the transport is
// not in the connected state.
func TestCallFailsWhenNotConnected(t *testing.T) {
	tr := transport.New(transport.Config{
		ClientID: "client-1",
		Dialer:   &fakeDialer{conn: newFakeConn()},
	})
	client := New(tr)

	_, err := client.Call(context.Background(), "chat.list", nil)
	if err == nil || !isNotConnected(err) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if tr.Registry().Len() != 0 {
		t.Fatalf("expected no pending request registered, got %d", tr.Registry().Len())
	}
}

func isNotConnected(err error) bool {
	return err == gatewayerr.ErrNotConnected
}

// TestOnEventDispatchesTopicAndParams verifies an inbound event frame
// reaches OnEvent subscribers with topic and params intact.
func TestOnEventDispatchesTopicAndParams(t *testing.T) {
	client, conn := newConnectedClient(t)

	received := make(chan wire.RPCEvent, 1)
	client.OnEvent(func(ev wire.RPCEvent) { received <- ev })

	evData, err := frame.EncodeText(struct {
		Topic  string          `json:"topic"`
		Params json.RawMessage `json:"params"`
	}{Topic: "chat.turn.started", Params: json.RawMessage(`{"thread_id":"t1"}`)})
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	conn.deliver(transport.MessageText, evData)

	select {
	case ev := <-received:
		if ev.Topic != "chat.turn.started" {
			t.Fatalf("expected topic chat.turn.started, got %s", ev.Topic)
		}
		if string(ev.Params) != `{"thread_id":"t1"}` {
			t.Fatalf("unexpected params: %s", ev.Params)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
