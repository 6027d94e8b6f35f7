package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/spooky-finn/go-terminal-bridge/domain"
)

// ErrClientIDInUse is returned by Connect when the terminal rejects the login
// because another process holds the same client id. It is a deterministic
// conflict: callers retry immediately with a different id, without backoff.
var ErrClientIDInUse = errors.New("client id already in use")

// LiveTicker is the live market-data handle returned by a subscription.
// Handles are invalidated by every reconnect; the subscription record, not
// the handle, is the source of truth for resubscription.
type LiveTicker interface {
	// Ready reports whether the ticker has observed a last trade, a close
	// price or a computed market price since creation. The feed-stability
	// gate counts a subscription as alive once this is true.
	Ready() bool
}

// TerminalSession is one transport session to the trading terminal. Exactly
// one session is current at a time; on auto-heal the old session is discarded
// and a new one is created through the SessionFactory, with callbacks
// re-attached exactly once per recreation.
type TerminalSession interface {
	Connect(ctx context.Context, clientID int) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// CurrentTime is the lightweight heartbeat round trip.
	CurrentTime(ctx context.Context) (time.Time, error)

	ReqMarketData(inst *domain.Instrument, tickList string, snapshot bool) (LiveTicker, error)
	CancelMarketData(inst *domain.Instrument) error

	// OnDisconnected registers the single transport-level disconnect handler.
	OnDisconnected(fn func())

	// OnTick and OnDepth register the stream callbacks. Dependents re-register
	// through the rebind hook after a session is recreated.
	OnTick(fn func(symbol string, upd *domain.MarketUpdate))
	OnDepth(fn func(symbol string, bids, asks []domain.PriceLevel))
}

// SessionFactory creates a fresh, unconnected session. The connection manager
// calls it at startup and again whenever a wedged session must be replaced.
type SessionFactory func() TerminalSession
