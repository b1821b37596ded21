package transport

import (
	"context"
	"errors"
	"sync"
)

// fakeConn is an in-memory Conn used to drive the transport deterministically
// in tests, without a real network socket.
type fakeConn struct {
	mu      sync.Mutex
	inbox   chan fakeFrame
	closed  bool
	written []fakeFrame
}

type fakeFrame struct {
	mt   MessageType
	data []byte
}

var errFakeConnClosed = errors.New("fakeConn: closed")

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan fakeFrame, 64)}
}

func (c *fakeConn) Read(ctx context.Context) (MessageType, []byte, error) {
	select {
	case f, ok := <-c.inbox:
		if !ok {
			return 0, nil, errFakeConnClosed
		}
		return f.mt, f.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, mt MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeConnClosed
	}
	cp := append([]byte(nil), data...)
	c.written = append(c.written, fakeFrame{mt: mt, data: cp})
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

func (c *fakeConn) deliver(mt MessageType, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox <- fakeFrame{mt: mt, data: data}
}

// fakeDialer hands out pre-seeded fakeConns (or a dial error) in sequence,
// one per call to Dial, so a test can script successive connection
// attempts (e.g. "fail twice, then succeed").
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	errs    []error
	dialed  []*fakeConn
	dialLog []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialLog = append(d.dialLog, url)

	idx := len(d.dialed)
	if idx < len(d.errs) && d.errs[idx] != nil {
		d.dialed = append(d.dialed, nil)
		return nil, d.errs[idx]
	}
	if idx >= len(d.conns) {
		// Out of scripted conns: hang until the test cancels or the
		// caller times out, by returning a fresh never-delivering conn.
		c := newFakeConn()
		d.dialed = append(d.dialed, c)
		return c, nil
	}
	c := d.conns[idx]
	d.dialed = append(d.dialed, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialLog)
}
