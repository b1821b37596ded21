package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gatewayrt/internal/frame"
	"github.com/ashureev/gatewayrt/internal/gatewayerr"
	"github.com/ashureev/gatewayrt/internal/reqreg"
)

func waitForState(t *testing.T, tr *Transport, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tr.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, tr.State())
}

func serverHelloFrame(t *testing.T, serverID string) []byte {
	t.Helper()
	data, err := frame.EncodeText(struct {
		Type            string `json:"type"`
		ServerID        string `json:"server_id"`
		ProtocolVersion int    `json:"protocol_version"`
	}{Type: "hello", ServerID: serverID, ProtocolVersion: 1})
	if err != nil {
		t.Fatalf("encode server hello: %v", err)
	}
	return data
}

func helloRejectFrame(t *testing.T, code, reason string) []byte {
	t.Helper()
	data, err := frame.EncodeText(struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Reason string `json:"reason"`
	}{Type: "reject", Code: code, Reason: reason})
	if err != nil {
		t.Fatalf("encode hello reject: %v", err)
	}
	return data
}

func eventFrame(t *testing.T, topic string) []byte {
	t.Helper()
	data, err := frame.EncodeText(struct {
		Topic string `json:"topic"`
	}{Topic: topic})
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return data
}

// TestHandshakeAccepted exercises S1: disconnected -> connecting ->
// handshaking -> connected, with the server hello captured.
func TestHandshakeAccepted(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	var mu sync.Mutex
	var states []State
	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})
	tr.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	conn.deliver(MessageText, serverHelloFrame(t, "srv-1"))

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, tr, StateConnected, time.Second)

	hello := tr.ServerHello()
	if hello == nil || hello.ServerID != "srv-1" {
		t.Fatalf("expected server hello with ServerID srv-1, got %+v", hello)
	}

	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()

	want := []State{StateDisconnected, StateConnecting, StateHandshaking, StateConnected}
	if len(got) < len(want) {
		t.Fatalf("expected at least %d transitions, got %v", len(want), got)
	}
	for i, s := range want {
		if got[i] != s {
			t.Fatalf("transition %d: want %s, got %s (full: %v)", i, s, got[i], got)
		}
	}
}

// TestHandshakeRejected exercises S2: a HelloReject moves the transport to
// the terminal rejected state with no reconnect scheduled.
func TestHandshakeRejected(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})

	conn.deliver(MessageText, helloRejectFrame(t, "auth_failed", "bad token"))

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, tr, StateRejected, time.Second)

	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected exactly one dial attempt after rejection, got %d", got)
	}
	if tr.State() != StateRejected {
		t.Fatalf("expected state to remain rejected, got %s", tr.State())
	}
}

// TestPendingRequestsRejectedOnStop verifies invariant #6: the pending
// request table is empty (and every outstanding caller unblocked) once Stop
// returns.
func TestPendingRequestsRejectedOnStop(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})
	conn.deliver(MessageText, serverHelloFrame(t, "srv-1"))
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, tr, StateConnected, time.Second)

	var rejectErr error
	tr.Registry().Set("req-1", reqreg.Pending{
		Resolve: func(json.RawMessage) {},
		Reject:  func(err error) { rejectErr = err },
	})
	if tr.Registry().Len() != 1 {
		t.Fatalf("expected 1 pending request before Stop, got %d", tr.Registry().Len())
	}

	tr.Stop()

	if tr.Registry().Len() != 0 {
		t.Fatalf("expected pending table empty after Stop, got %d", tr.Registry().Len())
	}
	if !errors.Is(rejectErr, gatewayerr.ErrConnectionClosed) {
		t.Fatalf("expected pending call rejected with ErrConnectionClosed, got %v", rejectErr)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected after Stop, got %s", tr.State())
	}
}

// TestBackoffSchedule exercises S6: after successive dial failures the
// transport keeps redialing on its backoff timer (delay = min(base *
// 2^retry, cap)). It checks that at least three attempts happen; it does
// not measure the delays between them.
func TestBackoffSchedule(t *testing.T) {
	dialErr := errors.New("dial refused")
	dialer := &fakeDialer{errs: []error{dialErr, dialErr, dialErr}}

	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
		Backoff:  BackoffConfig{Base: 10 * time.Millisecond, Cap: 40 * time.Millisecond},
	})

	start := time.Now()
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Expect dial attempts at ~0ms, ~10ms, ~30ms (gaps of 10ms then 20ms,
	// still under the 40ms cap), each preceded by a connecting transition.
	deadline := start.Add(2 * time.Second)
	for time.Now().Before(deadline) && dialer.dialCount() < 3 {
		time.Sleep(time.Millisecond)
	}
	if got := dialer.dialCount(); got < 3 {
		t.Fatalf("expected at least 3 dial attempts, got %d", got)
	}
	tr.Stop()
}

// TestBinaryBacklogCap verifies the bounded-backlog invariant: pushing more
// bytes than the cap drops the oldest frames first, and a late subscriber
// still receives the frames that remain.
func TestBinaryBacklogCap(t *testing.T) {
	b := newBinaryBacklog(10)
	b.push([]byte("01234")) // 5 bytes, total 5
	b.push([]byte("56789")) // 5 bytes, total 10
	b.push([]byte("abcde")) // 5 bytes, total 15 -> drop oldest (5) -> total 10

	if got := b.bytes(); got != 10 {
		t.Fatalf("expected backlog capped at 10 bytes, got %d", got)
	}

	frames := b.drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames to survive the cap, got %d", len(frames))
	}
	if string(frames[0]) != "56789" || string(frames[1]) != "abcde" {
		t.Fatalf("expected FIFO survivors [56789 abcde], got %v", frames)
	}
	if b.bytes() != 0 {
		t.Fatalf("expected backlog empty after drain, got %d bytes", b.bytes())
	}
}

// TestOnBinaryFlushesBacklogThenSwitchesToDirect verifies that frames
// buffered before a subscriber attaches are flushed in order, and frames
// delivered afterward go straight to the listener.
func TestOnBinaryFlushesBacklogThenSwitchesToDirect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})
	conn.deliver(MessageText, serverHelloFrame(t, "srv-1"))
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, tr, StateConnected, time.Second)

	conn.deliver(MessageBinary, []byte("frame-a"))
	conn.deliver(MessageBinary, []byte("frame-b"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && tr.backlog.bytes() < len("frame-a")+len("frame-b") {
		time.Sleep(time.Millisecond)
	}

	var received [][]byte
	var mu sync.Mutex
	unsub := tr.OnBinary(func(b []byte) {
		mu.Lock()
		received = append(received, append([]byte(nil), b...))
		mu.Unlock()
	})
	defer unsub()

	conn.deliver(MessageBinary, []byte("frame-c"))

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("expected 3 frames delivered, got %d: %v", len(received), received)
	}
	if string(received[0]) != "frame-a" || string(received[1]) != "frame-b" || string(received[2]) != "frame-c" {
		t.Fatalf("expected FIFO order [frame-a frame-b frame-c], got %v", received)
	}
}

// TestSetConnectionSamePairIsNoop verifies rebinding to the identical
// url/token pair does not tear down the channel or reset state.
func TestSetConnectionSamePairIsNoop(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	tr := New(Config{
		URL:       "ws://gateway.example/channel",
		AuthToken: "tok-1",
		ClientID:  "client-1",
		Dialer:    dialer,
	})
	conn.deliver(MessageText, serverHelloFrame(t, "srv-1"))
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, tr, StateConnected, time.Second)

	if err := tr.SetConnection("ws://gateway.example/channel", "tok-1"); err != nil {
		t.Fatalf("SetConnection same pair: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if tr.State() != StateConnected {
		t.Fatalf("expected state to remain connected after no-op SetConnection, got %s", tr.State())
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected no additional dial from no-op SetConnection, got %d dials", got)
	}
}

// TestEventsDeliveredAfterConnected verifies non-handshake text frames
// reach OnText subscribers once connected.
func TestEventsDeliveredAfterConnected(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	tr := New(Config{
		URL:      "ws://gateway.example/channel",
		ClientID: "client-1",
		Dialer:   dialer,
	})
	conn.deliver(MessageText, serverHelloFrame(t, "srv-1"))
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, tr, StateConnected, time.Second)

	received := make(chan []byte, 1)
	tr.OnText(func(b []byte) { received <- b })

	conn.deliver(MessageText, eventFrame(t, "thread.updated"))

	select {
	case b := <-received:
		kind, err := classifyForTest(b)
		if err != nil || kind != "event" {
			t.Fatalf("expected event frame, got kind=%s err=%v", kind, err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func classifyForTest(data []byte) (string, error) {
	var env struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Topic != "" {
		return "event", nil
	}
	return "", errors.New("not an event")
}
