package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-terminal-bridge/domain"
	"github.com/spooky-finn/go-terminal-bridge/domain/interfaces"
)

// journal records the interleaving of session calls and manager hooks so tests
// can assert ordering, not just occurrence.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *journal) after(marker string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e == marker {
			out := make([]string, len(j.entries)-i-1)
			copy(out, j.entries[i+1:])
			return out
		}
	}
	return nil
}

type fakeTicker struct {
	ready atomic.Bool
}

func (t *fakeTicker) Ready() bool { return t.ready.Load() }

type fakeSession struct {
	mu             sync.Mutex
	connected      bool
	connectIDs     []int
	conflictsLeft  int
	failuresLeft   int
	subscribed     []string
	cancelled      []string
	onDisconnected func()

	ticker  *fakeTicker
	journal *journal
}

func newFakeSession() *fakeSession {
	return &fakeSession{ticker: &fakeTicker{}, journal: &journal{}}
}

func (s *fakeSession) Connect(ctx context.Context, clientID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectIDs = append(s.connectIDs, clientID)
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return interfaces.ErrClientIDInUse
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return errors.New("connection refused")
	}
	s.connected = true
	return nil
}

func (s *fakeSession) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) CurrentTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (s *fakeSession) ReqMarketData(inst *domain.Instrument, tickList string, snapshot bool) (interfaces.LiveTicker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, inst.Symbol)
	s.journal.add("subscribe:" + inst.Symbol)
	return s.ticker, nil
}

func (s *fakeSession) CancelMarketData(inst *domain.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, inst.Symbol)
	return nil
}

func (s *fakeSession) OnDisconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

func (s *fakeSession) OnTick(fn func(string, *domain.MarketUpdate)) {}

func (s *fakeSession) OnDepth(fn func(string, []domain.PriceLevel, []domain.PriceLevel)) {}

// dropConnection simulates the transport dying and raising its handler, the
// way a closed websocket read loop does.
func (s *fakeSession) dropConnection() {
	s.mu.Lock()
	s.connected = false
	fn := s.onDisconnected
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func singleSessionFactory(s *fakeSession) interfaces.SessionFactory {
	return func() interfaces.TerminalSession { return s }
}

// testConfig keeps the background loops out of the way and makes the recovery
// sequence fast enough to observe.
func testConfig() Config {
	return Config{
		BaseClientID:         100,
		ClientIDSpan:         4,
		AutoConnect:          true,
		HeartbeatInterval:    time.Hour,
		SupervisorInterval:   time.Hour,
		FirstBackoff:         time.Millisecond,
		MaxBackoff:           2 * time.Millisecond,
		GracefulCloseTimeout: 50 * time.Millisecond,
		MinTickersReady:      1,
		MinStableWindow:      10 * time.Millisecond,
		StabilityPoll:        time.Millisecond,
		RebindDebounce:       time.Nanosecond,
	}
}

func mustInstrument(t *testing.T, symbol string) *domain.Instrument {
	t.Helper()
	inst, err := domain.NewInstrument(symbol, "FUT", "202512", "CME", "USD")
	require.NoError(t, err)
	return inst
}

func TestConnectionManager_StartConnects(t *testing.T) {
	sess := newFakeSession()
	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()

	require.NoError(t, m.Start())
	assert.True(t, m.IsConnected())

	cid := m.CurrentClientID()
	assert.GreaterOrEqual(t, cid, 100)
	assert.LessOrEqual(t, cid, 104)
}

func TestConnectionManager_SubscribeWhileConnected(t *testing.T) {
	sess := newFakeSession()
	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()
	require.NoError(t, m.Start())

	ticker := m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{TickList: "233"})
	require.NotNil(t, ticker)

	m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{TickList: "233"})
	assert.Len(t, m.Tickers(), 1, "re-using a key replaces the record")
}

func TestConnectionManager_SubscribeWhileDisconnected(t *testing.T) {
	sess := newFakeSession()
	cfg := testConfig()
	cfg.AutoConnect = false
	m := NewConnectionManager(cfg, singleSessionFactory(sess))
	defer m.Stop()
	require.NoError(t, m.Start())

	ticker := m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{})
	assert.Nil(t, ticker, "no live request while offline")
	assert.Empty(t, sess.subscribed)
	assert.Empty(t, m.Tickers())
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	sess := newFakeSession()
	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()
	require.NoError(t, m.Start())

	m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{})
	m.Unsubscribe("MNQ")
	m.Unsubscribe("unknown")

	assert.Equal(t, []string{"MNQ"}, sess.cancelled)
	assert.Empty(t, m.Tickers())
}

func TestConnectionManager_BackoffGrowsAndCaps(t *testing.T) {
	sess := newFakeSession()
	sess.failuresLeft = 6

	cfg := testConfig()
	cfg.FirstBackoff = time.Second
	cfg.MaxBackoff = 4 * time.Second
	cfg.HealAfterFailures = 100

	m := NewConnectionManager(cfg, singleSessionFactory(sess))
	defer m.Stop()

	var delays []time.Duration
	m.sleepFn = func(d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	require.NoError(t, m.Start())
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}, delays)
}

func TestConnectionManager_ClientIDConflictRetriesImmediately(t *testing.T) {
	sess := newFakeSession()
	sess.conflictsLeft = 3

	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()

	var delays []time.Duration
	m.sleepFn = func(d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	require.NoError(t, m.Start())
	assert.Empty(t, delays, "id conflicts never back off")
	assert.Len(t, sess.connectIDs, 4)
	assert.True(t, m.IsConnected())
}

func TestConnectionManager_AutoHealRecreatesSession(t *testing.T) {
	first := newFakeSession()
	first.failuresLeft = 10
	second := newFakeSession()

	created := 0
	factory := interfaces.SessionFactory(func() interfaces.TerminalSession {
		created++
		if created == 1 {
			return first
		}
		return second
	})

	cfg := testConfig()
	cfg.HealAfterFailures = 2

	m := NewConnectionManager(cfg, factory)
	defer m.Stop()
	m.sleepFn = func(d time.Duration) bool { return true }

	require.NoError(t, m.Start())
	assert.Equal(t, 2, created, "wedged session replaced after repeated failures")
	assert.Len(t, first.connectIDs, 2)
	assert.True(t, second.IsConnected())
}

func TestConnectionManager_RecoveryResubscribes(t *testing.T) {
	sess := newFakeSession()
	sess.ticker.ready.Store(true)

	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()

	m.OnRebind(func(s interfaces.TerminalSession) {
		sess.journal.add("rebind")
	})

	var resumed atomic.Bool
	m.On(EventResumed, func() { resumed.Store(true) })

	require.NoError(t, m.Start())
	m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{TickList: "233"})
	m.Subscribe("NQ", mustInstrument(t, "NQ"), SubscriptionOptions{TickList: "233"})
	m.Unsubscribe("NQ")

	sess.journal.add("drop")
	sess.dropConnection()

	assert.Eventually(t, resumed.Load, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"rebind", "subscribe:MNQ"}, sess.journal.after("drop"),
		"rebind precedes resubscription; cancelled keys stay cancelled")
	assert.Contains(t, m.Tickers(), "MNQ")
	assert.True(t, m.IsConnected())
}

func TestConnectionManager_FeedStabilityGateHoldsResume(t *testing.T) {
	sess := newFakeSession()

	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))
	defer m.Stop()

	var resumed atomic.Bool
	m.On(EventResumed, func() { resumed.Store(true) })

	require.NoError(t, m.Start())
	m.Subscribe("MNQ", mustInstrument(t, "MNQ"), SubscriptionOptions{})

	sess.dropConnection()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, resumed.Load(), "no resume while the ticker reports no data")

	sess.ticker.ready.Store(true)
	assert.Eventually(t, resumed.Load, 2*time.Second, 5*time.Millisecond)
}

func TestConnectionManager_StopAbortsRetry(t *testing.T) {
	sess := newFakeSession()
	sess.failuresLeft = 1 << 30

	m := NewConnectionManager(testConfig(), singleSessionFactory(sess))

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()

	time.Sleep(20 * time.Millisecond)
	m.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
