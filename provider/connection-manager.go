package provider

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/spooky-finn/go-terminal-bridge/domain"
	"github.com/spooky-finn/go-terminal-bridge/domain/interfaces"
	promclient "github.com/spooky-finn/go-terminal-bridge/infrastructure/prometheus"
)

var logger = log.New(os.Stdout, "[connection-manager] ", log.LstdFlags)

// ErrStopped aborts retry loops when the manager shuts down.
var ErrStopped = errors.New("connection manager stopped")

// Event identifies one lifecycle transition observers can hook into.
type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	// EventSuspended fires before recovery teardown begins.
	EventSuspended Event = "suspended"
	// EventResumed fires only after the feed-stability gate passes.
	EventResumed      Event = "resumed"
	EventResubscribed Event = "resubscribed"
)

type Hook func()

// RebindHook receives the freshly created session after a reconnect, before
// resubscription, so dependents can repoint cached references first.
type RebindHook func(session interfaces.TerminalSession)

type SubscriptionOptions struct {
	TickList string
	Snapshot bool
}

// subRecord is the persistent registration of one market-data subscription.
// It is the source of truth for resubscription; the live ticker handle is
// invalidated on every reconnect.
type subRecord struct {
	instrument *domain.Instrument
	opts       SubscriptionOptions
	ticker     interfaces.LiveTicker
}

type Config struct {
	BaseClientID int
	ClientIDSpan int
	AutoConnect  bool

	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	SupervisorInterval   time.Duration
	FirstBackoff         time.Duration
	MaxBackoff           time.Duration
	GracefulCloseTimeout time.Duration

	// Auto-heal: after this many consecutive transient connect failures the
	// session object is recreated and handlers reattached. Clears sockets a
	// plain reconnect cannot.
	HealAfterFailures int

	MinTickersReady int
	MinStableWindow time.Duration
	StabilityPoll   time.Duration

	RebindDebounce time.Duration
}

func (c *Config) withDefaults() {
	if c.ClientIDSpan < 1 {
		c.ClientIDSpan = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 8 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.SupervisorInterval <= 0 {
		c.SupervisorInterval = 5 * time.Second
	}
	if c.FirstBackoff <= 0 {
		c.FirstBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.GracefulCloseTimeout <= 0 {
		c.GracefulCloseTimeout = 2 * time.Second
	}
	if c.HealAfterFailures <= 0 {
		c.HealAfterFailures = 3
	}
	if c.MinTickersReady < 1 {
		c.MinTickersReady = 1
	}
	if c.MinStableWindow <= 0 {
		c.MinStableWindow = 3 * time.Second
	}
	if c.StabilityPoll <= 0 {
		c.StabilityPoll = 200 * time.Millisecond
	}
	if c.RebindDebounce <= 0 {
		c.RebindDebounce = 500 * time.Millisecond
	}
}

// ConnectionManager owns the terminal session lifecycle: it detects and heals
// disconnects, rotates client ids, and guarantees that registered
// subscriptions survive reconnection.
type ConnectionManager struct {
	cfg     Config
	factory interfaces.SessionFactory

	mu              sync.Mutex
	session         interfaces.TerminalSession
	subs            map[string]*subRecord
	hooks           map[Event][]Hook
	rebind          RebindHook
	lastRebind      time.Time
	currentClientID int
	started         bool

	// reconnecting guards the recovery sequence: concurrent disconnect
	// signals collapse into the in-flight one.
	reconnecting atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
	rng  *rand.Rand

	// sleepFn is swapped out by tests to observe backoff delays.
	sleepFn func(d time.Duration) bool
}

func NewConnectionManager(cfg Config, factory interfaces.SessionFactory) *ConnectionManager {
	cfg.withDefaults()

	m := &ConnectionManager{
		cfg:     cfg,
		factory: factory,
		subs:    make(map[string]*subRecord),
		hooks:   make(map[Event][]Hook),
		done:    make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.sleepFn = m.sleep
	m.session = factory()
	m.attachHandlers(m.session)
	return m
}

// Start opens the initial connection (when AutoConnect is set) and launches
// the watchdog and supervisor loops. Safe to call once per process lifetime;
// repeated calls are no-ops.
func (m *ConnectionManager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if m.cfg.AutoConnect {
		if err := m.connectWithRetry(); err != nil {
			return err
		}
	}

	m.wg.Add(2)
	go m.watchdog()
	go m.supervisor()
	return nil
}

// Stop cancels the background loops and attempts a bounded graceful
// disconnect. It does not wait for an in-flight recovery sequence: callers
// must treat it as best effort, not a barrier.
func (m *ConnectionManager) Stop() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GracefulCloseTimeout)
	defer cancel()
	if err := m.currentSession().Disconnect(ctx); err != nil {
		logger.Printf("graceful disconnect: %s", err)
	}
	promclient.ConnectedGauge.Set(0)
}

func (m *ConnectionManager) IsConnected() bool {
	return m.currentSession().IsConnected()
}

// ForceReconnect schedules the recovery sequence even if the transport still
// believes it is connected. Manual escape hatch.
func (m *ConnectionManager) ForceReconnect() {
	go m.disconnectSequence()
}

// On registers a lifecycle hook. Hooks run in registration order; a panic in
// one is logged and never aborts the surrounding sequence.
func (m *ConnectionManager) On(event Event, fn Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[event] = append(m.hooks[event], fn)
}

// OnRebind sets the single rebind hook, invoked after a session is recreated
// but before resubscription.
func (m *ConnectionManager) OnRebind(fn RebindHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebind = fn
}

// Subscribe registers a persistent market-data subscription under an opaque
// key. When connected the live request is issued immediately and its handle
// returned; when disconnected the intent is registered and nil returned, and
// the subscription goes live on the next successful (re)connection. Re-using
// a key replaces the prior record.
func (m *ConnectionManager) Subscribe(key string, inst *domain.Instrument, opts SubscriptionOptions) interfaces.LiveTicker {
	rec := &subRecord{instrument: inst, opts: opts}

	m.mu.Lock()
	m.subs[key] = rec
	sess := m.session
	m.mu.Unlock()

	if sess == nil || !sess.IsConnected() {
		return nil
	}

	ticker, err := sess.ReqMarketData(inst, opts.TickList, opts.Snapshot)
	if err != nil {
		logger.Printf("subscribe(%s) failed: %s", key, err)
		return nil
	}

	m.mu.Lock()
	rec.ticker = ticker
	m.mu.Unlock()
	return ticker
}

// Unsubscribe cancels the live request and removes the record. Unknown keys
// are a no-op.
func (m *ConnectionManager) Unsubscribe(key string) {
	m.mu.Lock()
	rec, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	sess := m.session
	m.mu.Unlock()

	if !ok || sess == nil || !sess.IsConnected() {
		return
	}
	if err := sess.CancelMarketData(rec.instrument); err != nil {
		logger.Printf("unsubscribe(%s): %s", key, err)
	}
}

// Tickers returns the live handles of all currently bound subscriptions.
func (m *ConnectionManager) Tickers() map[string]interfaces.LiveTicker {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]interfaces.LiveTicker)
	for key, rec := range m.subs {
		if rec.ticker != nil {
			out[key] = rec.ticker
		}
	}
	return out
}

func (m *ConnectionManager) CurrentClientID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentClientID
}

func (m *ConnectionManager) currentSession() interfaces.TerminalSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *ConnectionManager) attachHandlers(sess interfaces.TerminalSession) {
	sess.OnDisconnected(func() {
		logger.Printf("transport reported disconnect")
		m.dispatch(EventDisconnected)
		go m.disconnectSequence()
	})
}

// connectWithRetry dials until connected or the manager stops. A client-id
// conflict rotates the id and retries immediately; any other failure backs
// off exponentially up to the configured cap, forever. Every
// HealAfterFailures consecutive transient failures the session object is
// recreated entirely.
func (m *ConnectionManager) connectWithRetry() error {
	b := &backoff.Backoff{
		Min:    m.cfg.FirstBackoff,
		Max:    m.cfg.MaxBackoff,
		Factor: 2,
	}
	failures := 0

	for {
		select {
		case <-m.done:
			return ErrStopped
		default:
		}

		cid := m.nextClientID()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.currentSession().Connect(ctx, cid)
		cancel()

		if err == nil {
			m.mu.Lock()
			m.currentClientID = cid
			m.mu.Unlock()

			logger.Printf("connected (clientId=%d)", cid)
			promclient.ConnectedGauge.Set(1)
			m.dispatch(EventConnected)
			m.safeRebind()
			return nil
		}

		if errors.Is(err, interfaces.ErrClientIDInUse) {
			logger.Printf("clientId %d already in use, rotating", cid)
			continue
		}

		failures++
		if failures%m.cfg.HealAfterFailures == 0 {
			logger.Printf("recreating terminal session (auto-heal)")
			m.recreateSession()
		}

		delay := b.Duration()
		logger.Printf("connect failed: %s (retry in %s)", err, delay)
		if !m.sleepFn(delay) {
			return ErrStopped
		}
	}
}

func (m *ConnectionManager) nextClientID() int {
	return m.cfg.BaseClientID + m.rng.Intn(m.cfg.ClientIDSpan+1)
}

func (m *ConnectionManager) recreateSession() {
	sess := m.factory()
	m.attachHandlers(sess)

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
}

// disconnectSequence is the recovery core: suspend, graceful close,
// reconnect, rebind, resubscribe, wait for the feed to stabilize, resume.
// Re-entrant calls collapse into the in-flight sequence.
func (m *ConnectionManager) disconnectSequence() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer m.reconnecting.Store(false)

	logger.Printf("disconnected, starting recovery")
	promclient.ConnectedGauge.Set(0)
	promclient.ReconnectsTotal.Inc()
	m.dispatch(EventSuspended)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GracefulCloseTimeout)
	if err := m.currentSession().Disconnect(ctx); err != nil {
		logger.Printf("stale session close: %s", err)
	}
	cancel()

	if err := m.connectWithRetry(); err != nil {
		return
	}

	logger.Printf("reconnected, resubscribing")
	m.resubscribeAll()

	if !m.waitFeedStable() {
		return
	}
	logger.Printf("feed stable, resumed")

	m.dispatch(EventResumed)
	m.dispatch(EventResubscribed)
}

// safeRebind invokes the rebind hook, debounced so racing disconnect signals
// cannot rebind dependents twice in quick succession.
func (m *ConnectionManager) safeRebind() {
	m.mu.Lock()
	fn := m.rebind
	sess := m.session
	if fn == nil {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(m.lastRebind) < m.cfg.RebindDebounce {
		m.mu.Unlock()
		return
	}
	m.lastRebind = now
	m.mu.Unlock()

	safeInvoke("rebind", func() { fn(sess) })
}

// resubscribeAll reissues every registered subscription on the current
// session, in map-iteration order. Individual failures are logged and leave
// the record unbound until the next recovery.
func (m *ConnectionManager) resubscribeAll() {
	m.mu.Lock()
	sess := m.session
	records := make(map[string]*subRecord, len(m.subs))
	for key, rec := range m.subs {
		records[key] = rec
	}
	m.mu.Unlock()

	for key, rec := range records {
		ticker, err := sess.ReqMarketData(rec.instrument, rec.opts.TickList, rec.opts.Snapshot)
		if err != nil {
			logger.Printf("resub %s failed: %s", key, err)
			continue
		}
		m.mu.Lock()
		rec.ticker = ticker
		m.mu.Unlock()
		promclient.ResubscribedTotal.Inc()
		logger.Printf("resub %s ok", key)
	}
}

// waitFeedStable blocks until at least MinTickersReady subscriptions report
// live data and that condition has held continuously for MinStableWindow.
// A single stale tick right after reconnect must not count as resumed.
// Returns false when the manager stops first.
func (m *ConnectionManager) waitFeedStable() bool {
	if m.subscriptionCount() == 0 {
		return true
	}

	var readySince time.Time
	for {
		ready := 0
		m.mu.Lock()
		for _, rec := range m.subs {
			if rec.ticker != nil && rec.ticker.Ready() {
				ready++
			}
		}
		m.mu.Unlock()

		now := time.Now()
		if ready >= m.cfg.MinTickersReady {
			if readySince.IsZero() {
				readySince = now
			}
			if now.Sub(readySince) >= m.cfg.MinStableWindow {
				return true
			}
		} else {
			readySince = time.Time{}
		}

		if !m.sleepFn(m.cfg.StabilityPoll) {
			return false
		}
	}
}

func (m *ConnectionManager) subscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// watchdog issues the heartbeat round trip while connected; a timeout or
// error triggers the recovery sequence.
func (m *ConnectionManager) watchdog() {
	defer m.wg.Done()

	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-t.C:
			if !m.IsConnected() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HeartbeatTimeout)
			_, err := m.currentSession().CurrentTime(ctx)
			cancel()
			if err != nil {
				logger.Printf("heartbeat failed: %s, reconnecting", err)
				m.disconnectSequence()
			}
		}
	}
}

// supervisor is the backstop for disconnects that never raise the transport
// event: if the session is down and no recovery is in flight, start one.
func (m *ConnectionManager) supervisor() {
	defer m.wg.Done()

	t := time.NewTicker(m.cfg.SupervisorInterval)
	defer t.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-t.C:
			if m.reconnecting.Load() {
				continue
			}
			if !m.IsConnected() {
				logger.Printf("supervisor: not connected, reconnecting")
				m.disconnectSequence()
			}
		}
	}
}

// dispatch runs all hooks of one event, isolating each observer's failure.
func (m *ConnectionManager) dispatch(event Event) {
	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks[event]))
	copy(hooks, m.hooks[event])
	m.mu.Unlock()

	for _, fn := range hooks {
		safeInvoke(string(event), fn)
	}
}

func safeInvoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s callback error: %v", name, r)
		}
	}()
	fn()
}

func (m *ConnectionManager) sleep(d time.Duration) bool {
	select {
	case <-m.done:
		return false
	case <-time.After(d):
		return true
	}
}
