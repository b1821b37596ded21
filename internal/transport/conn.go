package transport

import (
	"context"

	"github.com/coder/websocket"
)

// MessageType mirrors coder/websocket's frame-type constants so this
// package's public surface doesn't leak the websocket import to callers
// that only need to fake a Conn for tests.
type MessageType int

const (
	// MessageText tags a text (JSON) frame.
	MessageText MessageType = iota
	// MessageBinary tags an opaque binary frame.
	MessageBinary
)

// Conn is the minimal duplex channel the transport drives. coder/websocket's
// *websocket.Conn satisfies it directly; tests substitute a fake.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, mt MessageType, data []byte) error
	Close(reason string) error
}

// Dialer opens a Conn to a ws:// or wss:// URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the production Dialer, backed by coder/websocket.
type WebsocketDialer struct{}

// Dial opens a websocket connection using default options.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	mt, data, err := w.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if mt == websocket.MessageBinary {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (w *wsConn) Write(ctx context.Context, mt MessageType, data []byte) error {
	wireType := websocket.MessageText
	if mt == MessageBinary {
		wireType = websocket.MessageBinary
	}
	return w.c.Write(ctx, wireType, data)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
