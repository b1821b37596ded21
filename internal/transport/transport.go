// Package transport implements the gateway duplex-channel state machine
// (spec §4.3): connect, handshake, connected, disconnect/reconnect with
// exponential backoff, and bounded binary backpressure while no consumer
// is attached.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gatewayrt/internal/frame"
	"github.com/ashureev/gatewayrt/internal/gatewayerr"
	"github.com/ashureev/gatewayrt/internal/reqreg"
	"github.com/ashureev/gatewayrt/internal/wire"
)

// DefaultHandshakeTimeout bounds how long the transport waits for a
// ServerHello or HelloReject once the channel is open.
const DefaultHandshakeTimeout = 5 * time.Second

// Config configures one Transport instance. URL and AuthToken are the
// initial connection pair; SetConnection rebinds the same instance to a
// different pair.
type Config struct {
	URL              string
	AuthToken        string
	ClientID         string
	Capabilities     []string
	ProtocolMin      int
	ProtocolMax      int
	HandshakeTimeout time.Duration
	Backoff          BackoffConfig
	BinaryBacklogCap int
	Dialer           Dialer
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ProtocolMin == 0 && c.ProtocolMax == 0 {
		c.ProtocolMin, c.ProtocolMax = 1, 1
	}
	return c
}

type stateSub struct {
	id       int
	listener func(State)
}

type bytesSub struct {
	id       int
	listener func([]byte)
}

// Transport owns the single duplex channel for one gateway URL. Listeners
// are owned by callers; the transport only holds weak bookkeeping and
// unsubscribes cleanly.
type Transport struct {
	cfg Config

	mu              sync.Mutex
	url             string
	token           string
	state           State
	shouldReconnect bool
	retry           int
	generation      int
	conn            Conn
	serverHello     *wire.ServerHello
	reconnectTimer  *time.Timer
	cancelAttempt   context.CancelFunc

	writeMu sync.Mutex

	registry *reqreg.Registry
	backlog  *binaryBacklog

	subMu           sync.Mutex
	nextSubID       int
	stateListeners  []stateSub
	textListeners   []bytesSub
	binaryListeners []bytesSub
}

// New builds a Transport in the disconnected state. Call Start to begin
// connecting once a URL is configured (either in cfg.URL or via
// SetConnection).
func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:             cfg,
		url:             cfg.URL,
		token:           cfg.AuthToken,
		state:           StateDisconnected,
		shouldReconnect: true,
		registry:        reqreg.New(),
		backlog:         newBinaryBacklog(cfg.BinaryBacklogCap),
	}
}

// Registry returns the transport-owned pending-request table, for the RPC
// client layered on top.
func (t *Transport) Registry() *reqreg.Registry {
	return t.registry
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ServerHello returns the most recently recorded handshake acceptance, or
// nil if the transport has never reached connected.
func (t *Transport) ServerHello() *wire.ServerHello {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverHello
}

// OnStateChange subscribes to state transitions. The current snapshot is
// delivered synchronously before this call returns. The returned func
// unsubscribes.
func (t *Transport) OnStateChange(listener func(State)) func() {
	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.stateListeners = append(t.stateListeners, stateSub{id: id, listener: listener})
	t.subMu.Unlock()

	listener(t.State())

	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		for i, s := range t.stateListeners {
			if s.id == id {
				t.stateListeners = append(t.stateListeners[:i], t.stateListeners[i+1:]...)
				break
			}
		}
	}
}

// OnText subscribes to decoded inbound text frames, delivered in arrival
// order.
func (t *Transport) OnText(listener func([]byte)) func() {
	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.textListeners = append(t.textListeners, bytesSub{id: id, listener: listener})
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		for i, s := range t.textListeners {
			if s.id == id {
				t.textListeners = append(t.textListeners[:i], t.textListeners[i+1:]...)
				break
			}
		}
	}
}

// OnBinary subscribes to inbound binary frames. On first subscription the
// backlog accumulated while unattached is flushed synchronously in FIFO
// order, then delivery switches to direct. Registration and flush happen
// under the same lock that guards pushes from the read loop, so no frame
// can arrive between the flush and the listener being wired in.
func (t *Transport) OnBinary(listener func([]byte)) func() {
	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	buffered := t.backlog.drain()
	t.binaryListeners = append(t.binaryListeners, bytesSub{id: id, listener: listener})
	t.subMu.Unlock()

	for _, frame := range buffered {
		listener(frame)
	}

	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		for i, s := range t.binaryListeners {
			if s.id == id {
				t.binaryListeners = append(t.binaryListeners[:i], t.binaryListeners[i+1:]...)
				break
			}
		}
	}
}

func (t *Transport) emitState(s State) {
	t.subMu.Lock()
	listeners := make([]func(State), len(t.stateListeners))
	for i, sub := range t.stateListeners {
		listeners[i] = sub.listener
	}
	t.subMu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (t *Transport) emitText(data []byte) {
	t.subMu.Lock()
	listeners := make([]func([]byte), 0, len(t.textListeners))
	for _, s := range t.textListeners {
		if s.listener != nil {
			listeners = append(listeners, s.listener)
		}
	}
	t.subMu.Unlock()
	for _, l := range listeners {
		l(data)
	}
}

// deliverBinary either forwards payload directly to attached binary
// listeners or, if none are attached, appends it to the backlog. Holding
// subMu across the "is anyone attached" check and the backlog push closes
// the race with a concurrent OnBinary flush.
func (t *Transport) deliverBinary(payload []byte) {
	t.subMu.Lock()
	if len(t.binaryListeners) > 0 {
		listeners := make([]func([]byte), len(t.binaryListeners))
		for i, s := range t.binaryListeners {
			listeners[i] = s.listener
		}
		t.subMu.Unlock()
		for _, l := range listeners {
			l(payload)
		}
		return
	}
	t.backlog.push(payload)
	t.subMu.Unlock()
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.cfg.Logger.Debug("transport state changed", "state", s.String())
	t.emitState(s)
}

// Start begins connecting, if a URL is configured and the transport is
// currently disconnected.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	if t.url == "" {
		t.mu.Unlock()
		return gatewayerr.ErrInvalidURL
	}
	if err := validateURL(t.url); err != nil {
		t.mu.Unlock()
		return err
	}
	t.shouldReconnect = true
	t.retry = 0
	gen := t.beginAttemptLocked()
	url, token := t.url, t.token
	t.mu.Unlock()

	t.setState(StateConnecting)
	go t.runAttempt(gen, url, token)
	return nil
}

// beginAttemptLocked bumps the generation counter and cancels any
// in-flight attempt. Caller must hold t.mu.
func (t *Transport) beginAttemptLocked() int {
	if t.cancelAttempt != nil {
		t.cancelAttempt()
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.generation++
	return t.generation
}

func (t *Transport) isCurrentGen(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation == gen
}

// Stop halts the transport synchronously from the caller's perspective: no
// further events are delivered after it returns. Pending calls are
// rejected with ConnectionClosed; no reconnect is scheduled.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.shouldReconnect = false
	t.beginAttemptLocked()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close("stop")
	}
	t.registry.RejectAll(gatewayerr.ErrConnectionClosed)
	t.setState(StateDisconnected)
}

// SetConnection rebinds the transport to a new URL/token pair. The same
// pair is a no-op; a different pair closes the current channel and begins
// connecting to the new one.
func (t *Transport) SetConnection(url, token string) error {
	t.mu.Lock()
	if url == t.url && token == t.token {
		t.mu.Unlock()
		return nil
	}
	if err := validateURL(url); err != nil {
		t.mu.Unlock()
		return err
	}
	t.url = url
	t.token = token
	t.shouldReconnect = true
	t.retry = 0
	gen := t.beginAttemptLocked()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close("reconnecting to new url")
	}
	t.registry.RejectAll(gatewayerr.ErrConnectionClosed)
	t.setState(StateDisconnected)
	t.setState(StateConnecting)
	go t.runAttempt(gen, url, token)
	return nil
}

func validateURL(url string) error {
	if len(url) >= 5 && url[:5] == "ws://" {
		return nil
	}
	if len(url) >= 6 && url[:6] == "wss://" {
		return nil
	}
	return gatewayerr.ErrInvalidURL
}

// runAttempt dials, performs the handshake, and if successful runs the read
// loop until the channel closes. On any failure it schedules a reconnect
// (unless the attempt has been superseded or the transport is stopping).
func (t *Transport) runAttempt(gen int, url, token string) {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancelAttempt = cancel
	t.mu.Unlock()

	conn, err := t.cfg.Dialer.Dial(ctx, url)
	if !t.isCurrentGen(gen) {
		if conn != nil {
			_ = conn.Close("superseded")
		}
		return
	}
	if err != nil {
		t.cfg.Logger.Warn("gateway dial failed", "url", url, "error", err)
		t.failAndScheduleReconnect(gen)
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.setState(StateHandshaking)

	hello := wire.ClientHello{
		Protocol:     wire.ProtocolRange{Min: t.cfg.ProtocolMin, Max: t.cfg.ProtocolMax},
		ClientID:     t.cfg.ClientID,
		AuthToken:    token,
		Capabilities: t.cfg.Capabilities,
	}
	data, err := frame.EncodeText(hello)
	if err != nil {
		t.cfg.Logger.Error("failed to encode client hello", "error", err)
		t.failAndScheduleReconnect(gen)
		return
	}
	if err := conn.Write(ctx, MessageText, data); err != nil {
		t.cfg.Logger.Warn("failed to send client hello", "error", err)
		t.failAndScheduleReconnect(gen)
		return
	}

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	mt, payload, err := conn.Read(handshakeCtx)
	handshakeCancel()
	if !t.isCurrentGen(gen) {
		return
	}
	if err != nil {
		if errors.Is(handshakeCtx.Err(), context.DeadlineExceeded) {
			t.cfg.Logger.Warn("handshake timed out", "url", url)
			t.closeAndReconnectWithoutError(gen, conn)
			return
		}
		t.cfg.Logger.Warn("handshake read failed", "error", err)
		t.failAndScheduleReconnect(gen)
		return
	}
	if mt != MessageText {
		t.cfg.Logger.Warn("handshake frame was not text; dropping connection")
		t.failAndScheduleReconnect(gen)
		return
	}

	kind, err := wire.Classify(payload)
	if err != nil {
		t.cfg.Logger.Warn("handshake frame malformed", "error", err)
		t.failAndScheduleReconnect(gen)
		return
	}

	switch kind {
	case wire.KindServerHello:
		var sh wire.ServerHello
		if err := frame.DecodeText(payload, &sh); err != nil {
			t.cfg.Logger.Warn("server hello malformed", "error", err)
			t.failAndScheduleReconnect(gen)
			return
		}
		t.mu.Lock()
		t.serverHello = &sh
		t.retry = 0
		t.mu.Unlock()
		t.setState(StateConnected)
		t.cfg.Logger.Info("gateway handshake accepted", "server_id", sh.ServerID, "protocol_version", sh.ProtocolVersion)
		t.readLoop(ctx, gen, conn)
	case wire.KindHelloReject:
		var rej wire.HelloReject
		if err := frame.DecodeText(payload, &rej); err != nil {
			t.cfg.Logger.Warn("hello reject malformed", "error", err)
		}
		t.cfg.Logger.Warn("gateway rejected handshake", "code", rej.Code, "reason", rej.Reason)
		t.mu.Lock()
		t.shouldReconnect = false
		t.conn = nil
		t.mu.Unlock()
		_ = conn.Close("rejected")
		t.registry.RejectAll(fmt.Errorf("%w: %s: %s", gatewayerr.ErrHelloRejected, rej.Code, rej.Reason))
		t.setState(StateRejected)
	default:
		t.cfg.Logger.Warn("unexpected frame during handshake", "kind", kind)
		t.failAndScheduleReconnect(gen)
	}
}

// readLoop processes inbound frames until the channel closes. Handshake
// frames received while already connected are ignored and logged (spec §9
// open question).
func (t *Transport) readLoop(ctx context.Context, gen int, conn Conn) {
	for {
		mt, payload, err := conn.Read(ctx)
		if !t.isCurrentGen(gen) {
			return
		}
		if err != nil {
			t.cfg.Logger.Debug("gateway channel closed", "error", err)
			t.failAndScheduleReconnect(gen)
			return
		}

		if mt == MessageBinary {
			t.deliverBinary(payload)
			continue
		}

		kind, err := wire.Classify(payload)
		if err != nil {
			t.cfg.Logger.Warn("dropping malformed text frame", "error", err)
			continue
		}
		if kind == wire.KindServerHello || kind == wire.KindHelloReject {
			t.cfg.Logger.Debug("ignoring handshake frame while connected", "kind", kind)
			continue
		}
		t.emitText(payload)
	}
}

// failAndScheduleReconnect transitions error->disconnected and, unless the
// transport has been told to stop reconnecting (e.g. a prior rejection or
// an explicit Stop), schedules the next attempt with exponential backoff.
func (t *Transport) failAndScheduleReconnect(gen int) {
	if !t.isCurrentGen(gen) {
		return
	}
	t.setState(StateError)

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close("error")
	}
	t.registry.RejectAll(gatewayerr.ErrConnectionClosed)
	t.setState(StateDisconnected)
	t.scheduleReconnectIfNeeded(gen)
}

// closeAndReconnectWithoutError is the handshake-timeout path: it skips the
// error state hop because a timed-out handshake is recoverable.
func (t *Transport) closeAndReconnectWithoutError(gen int, conn Conn) {
	if !t.isCurrentGen(gen) {
		return
	}
	_ = conn.Close("handshake timeout")
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	t.registry.RejectAll(gatewayerr.ErrHandshakeTimeout)
	t.setState(StateDisconnected)
	t.scheduleReconnectIfNeeded(gen)
}

func (t *Transport) scheduleReconnectIfNeeded(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shouldReconnect || t.generation != gen {
		return
	}
	retry := t.retry
	t.retry++
	delay := t.cfg.Backoff.delay(retry)
	url, token := t.url, t.token
	nextGen := t.generation + 1
	t.generation = nextGen
	t.reconnectTimer = time.AfterFunc(delay, func() {
		if !t.isCurrentGen(nextGen) {
			return
		}
		t.setState(StateConnecting)
		go t.runAttempt(nextGen, url, token)
	})
}

// SendText serializes v as JSON and sends it as a text frame. Requires the
// transport to be connected.
func (t *Transport) SendText(v any) error {
	data, err := frame.EncodeText(v)
	if err != nil {
		return fmt.Errorf("%w: %v", gatewayerr.ErrSerialization, err)
	}
	return t.sendRaw(MessageText, data)
}

// SendBinary sends raw bytes with no framing. Requires the transport to be
// connected.
func (t *Transport) SendBinary(data []byte) error {
	return t.sendRaw(MessageBinary, data)
}

func (t *Transport) sendRaw(mt MessageType, data []byte) error {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return gatewayerr.ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return gatewayerr.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.Write(context.Background(), mt, data)
}
