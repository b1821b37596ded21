// Package coordinator is the stateful glue of spec §4.7: it owns the
// transport lifecycle for one gateway URL, bootstraps on connect, routes
// every server event through the event mapper and thread reducer, and
// exposes the send/cancel/approve/archive/rename operations the UI drives.
package coordinator

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/gatewayrt/internal/domain"
	"github.com/ashureev/gatewayrt/internal/eventmap"
	"github.com/ashureev/gatewayrt/internal/kvstore"
	"github.com/ashureev/gatewayrt/internal/rpc"
	thrd "github.com/ashureev/gatewayrt/internal/thread"
	"github.com/ashureev/gatewayrt/internal/transport"
	"github.com/ashureev/gatewayrt/internal/wire"
)

// BootstrapTimeout bounds how long the post-connect bootstrap sequence
// (subscribe, list, hydrate, capability discovery) may take.
const BootstrapTimeout = 15 * time.Second

// QueuedIndicatorTTL is how long the "queued while running" flag stays set
// if no turn.completed arrives first (spec §4.7).
const QueuedIndicatorTTL = 4 * time.Second

// Capabilities is the gateway-advertised surface discovered during
// bootstrap: models, collaboration modes, skills, tools, and accounts.
type Capabilities struct {
	Models             []rpc.Model
	CollaborationModes []rpc.CollaborationMode
	Skills             []rpc.Skill
	Tools              []rpc.ToolDescriptor
	Accounts           []rpc.Account
}

// Coordinator glues a transport-backed rpc.Client to the pure event mapper
// and thread reducer, and owns the one piece of externally-persisted state:
// last active chat, title overrides, and per-chat settings (spec §4.7
// "State restoration").
type Coordinator struct {
	client *rpc.Client
	kv     kvstore.KVStore
	logger *slog.Logger

	mu             sync.Mutex
	url            string
	threads        map[string]domain.ActiveThread
	summaries      map[string]domain.ThreadSummary
	threadIDLookup map[string]string
	usage          map[string]domain.TokenUsage
	deltaBuf       *eventmap.DeltaBuffer
	queued         map[string]*time.Timer
	caps           Capabilities

	listenersMu sync.Mutex
	nextSubID   int
	listeners   []changeSub

	unsubState func()
	unsubEvent func()
}

type changeSub struct {
	id       int
	listener func(chatID string)
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New builds a Coordinator over an already-constructed rpc.Client. The
// client's transport is not started; call Start once a URL is configured.
func New(client *rpc.Client, kv kvstore.KVStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:         client,
		kv:             kv,
		logger:         slog.Default(),
		threads:        make(map[string]domain.ActiveThread),
		summaries:      make(map[string]domain.ThreadSummary),
		threadIDLookup: make(map[string]string),
		usage:          make(map[string]domain.TokenUsage),
		deltaBuf:       eventmap.NewDeltaBuffer(),
		queued:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.unsubState = client.OnStateChange(c.handleStateChange)
	c.unsubEvent = client.OnEvent(c.handleEvent)
	return c
}

// Start begins connecting the underlying transport.
func (c *Coordinator) Start() error {
	return c.client.Transport().Start()
}

// TransportState returns the underlying transport's current connection
// state, for status/diagnostics surfaces.
func (c *Coordinator) TransportState() transport.State {
	return c.client.Transport().State()
}

// SetConnection rebinds the coordinator to a new gateway URL/token pair.
// Per spec §3 Lifecycle, changing URL discards all in-memory thread state;
// pending calls reject and subscribers are notified (via the transport's
// own state-change/pending-reject machinery).
func (c *Coordinator) SetConnection(url, token string) error {
	c.mu.Lock()
	sameURL := c.url == url
	c.mu.Unlock()
	if err := c.client.Transport().SetConnection(url, token); err != nil {
		return err
	}
	if !sameURL {
		c.resetState(url)
	}
	return nil
}

// Stop halts the transport and drops all in-memory state.
func (c *Coordinator) Stop() {
	c.client.Transport().Stop()
	c.resetState("")
}

// Close unsubscribes from the underlying client without stopping the
// transport, for callers that manage the transport's lifetime themselves.
func (c *Coordinator) Close() {
	if c.unsubState != nil {
		c.unsubState()
	}
	if c.unsubEvent != nil {
		c.unsubEvent()
	}
}

func (c *Coordinator) resetState(url string) {
	c.mu.Lock()
	c.url = url
	c.threads = make(map[string]domain.ActiveThread)
	c.summaries = make(map[string]domain.ThreadSummary)
	c.threadIDLookup = make(map[string]string)
	c.usage = make(map[string]domain.TokenUsage)
	c.deltaBuf = eventmap.NewDeltaBuffer()
	for _, timer := range c.queued {
		timer.Stop()
	}
	c.queued = make(map[string]*time.Timer)
	c.mu.Unlock()
	c.notifyAll()
}

// Thread returns a snapshot of the in-memory thread for chatID, or the
// zero value and false if none is loaded yet.
func (c *Coordinator) Thread(chatID string) (domain.ActiveThread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[chatID]
	return t, ok
}

// Summaries returns a snapshot of every known thread summary.
func (c *Coordinator) Summaries() []domain.ThreadSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ThreadSummary, 0, len(c.summaries))
	for _, s := range c.summaries {
		out = append(out, s)
	}
	return out
}

// TokenUsage returns the accumulated token usage for chatID.
func (c *Coordinator) TokenUsage(chatID string) domain.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage[chatID]
}

// Capabilities returns the gateway surface discovered during the last
// successful bootstrap.
func (c *Coordinator) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// IsQueued reports whether chatID currently shows the transient
// "queued while running" indicator (spec §4.7).
func (c *Coordinator) IsQueued(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.queued[chatID]
	return ok
}

// setQueuedLocked arms (or re-arms) the queued indicator for chatID,
// auto-clearing after QueuedIndicatorTTL. Callers must hold c.mu.
func (c *Coordinator) setQueuedLocked(chatID string) {
	if timer, ok := c.queued[chatID]; ok {
		timer.Stop()
	}
	c.queued[chatID] = time.AfterFunc(QueuedIndicatorTTL, func() {
		c.mu.Lock()
		c.clearQueuedLocked(chatID)
		c.mu.Unlock()
		c.notify(chatID)
	})
}

// clearQueuedLocked removes the queued indicator for chatID, if set.
// Callers must hold c.mu.
func (c *Coordinator) clearQueuedLocked(chatID string) {
	if timer, ok := c.queued[chatID]; ok {
		timer.Stop()
		delete(c.queued, chatID)
	}
}

// OnChange subscribes to thread/summary updates; listener receives the
// affected chatID. The returned func unsubscribes.
func (c *Coordinator) OnChange(listener func(chatID string)) func() {
	c.listenersMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.listeners = append(c.listeners, changeSub{id: id, listener: listener})
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for i, s := range c.listeners {
			if s.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				break
			}
		}
	}
}

func (c *Coordinator) notify(chatID string) {
	c.listenersMu.Lock()
	listeners := make([]func(string), len(c.listeners))
	for i, s := range c.listeners {
		listeners[i] = s.listener
	}
	c.listenersMu.Unlock()
	for _, l := range listeners {
		l(chatID)
	}
}

func (c *Coordinator) notifyAll() {
	c.notify("")
}

func (c *Coordinator) handleStateChange(s transport.State) {
	if s != transport.StateConnected {
		return
	}
	// Bootstrap runs off the transport's own goroutine: listeners must not
	// block on further RPCs synchronously (spec §5 "no reentrancy into
	// call/resolve").
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), BootstrapTimeout)
		defer cancel()
		if err := c.bootstrap(ctx); err != nil {
			c.logger.Warn("gateway bootstrap failed", "error", err)
		}
	}()
}

// handleEvent is the rpc.Client event listener: map the raw event, fold it
// into the matching thread, and refresh that thread's summary row (spec
// §4.7 "Event routing").
func (c *Coordinator) handleEvent(ev wire.RPCEvent) {
	mapped, ok := eventmap.MapEvent(ev, lookupAdapter{c}, c.currentDeltaBuf())
	if !ok {
		return
	}

	c.mu.Lock()
	if mapped.ThreadID != "" && mapped.ChatID != "" {
		c.threadIDLookup[mapped.ThreadID] = mapped.ChatID
	}

	if mapped.Kind == eventmap.KindTokensUsage {
		c.usage[mapped.ChatID] = c.usage[mapped.ChatID].Accumulate(mapped.Usage, mapped.ModelContextWindow)
		c.mu.Unlock()
		c.notify(mapped.ChatID)
		return
	}

	current := c.threads[mapped.ChatID]
	if current.ChatID == "" {
		current.ChatID = mapped.ChatID
	}
	if mapped.ThreadID != "" {
		current.ThreadID = mapped.ThreadID
	}
	next := thrd.Apply(current, mapped)
	c.threads[mapped.ChatID] = next

	summary := c.summaries[mapped.ChatID]
	summary.ChatID = mapped.ChatID
	if next.ThreadID != "" {
		summary.ThreadID = next.ThreadID
	}
	summary.Running = next.Running
	if mapped.ActivityAt.After(summary.LastActivityAt) {
		summary.LastActivityAt = mapped.ActivityAt
	}
	summary.Preview = previewFor(next)
	c.summaries[mapped.ChatID] = summary

	if mapped.Kind == eventmap.KindTurnCompleted {
		c.clearQueuedLocked(mapped.ChatID)
	}
	c.mu.Unlock()

	c.notify(mapped.ChatID)
}

// previewFor derives the list-view preview text from a thread's most
// recent non-empty item text.
func previewFor(t domain.ActiveThread) string {
	for i := len(t.Items) - 1; i >= 0; i-- {
		if t.Items[i].Text != "" {
			return t.Items[i].Text
		}
	}
	return ""
}

func (c *Coordinator) currentDeltaBuf() *eventmap.DeltaBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deltaBuf
}

// lookupAdapter adapts the coordinator's threadId->chatId map to
// eventmap.ThreadIDLookup under the coordinator's own lock.
type lookupAdapter struct{ c *Coordinator }

func (l lookupAdapter) ChatIDForThread(threadID string) (string, bool) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	chatID, ok := l.c.threadIDLookup[threadID]
	return chatID, ok
}

func urlencode(s string) string {
	return url.QueryEscape(s)
}
