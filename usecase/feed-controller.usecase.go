package usecase

import (
	"log"
	"os"
	"time"

	"github.com/spooky-finn/go-terminal-bridge/config"
	"github.com/spooky-finn/go-terminal-bridge/domain"
	"github.com/spooky-finn/go-terminal-bridge/domain/interfaces"
	promclient "github.com/spooky-finn/go-terminal-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-terminal-bridge/provider"
)

var logger = log.New(os.Stdout, "[feed-controller] ", log.LstdFlags)

// rtVolumeTickList asks the terminal for the running-volume generic tick
// alongside the default last-trade fields.
const rtVolumeTickList = "233"

const defaultSpeedWindow = 60 * time.Second

// FeedController wires the connection manager to the aggregator: it owns the
// symbol-to-instrument mapping, forwards raw tick/depth callbacks, and keeps
// the callbacks pointed at the current session across reconnects.
type FeedController struct {
	cm  *provider.ConnectionManager
	agg *domain.Aggregator

	instruments map[string]*domain.Instrument
}

func NewFeedController(cm *provider.ConnectionManager, agg *domain.Aggregator, symbols []config.SymbolConfig) *FeedController {
	instruments := make(map[string]*domain.Instrument, len(symbols))
	for _, s := range symbols {
		instruments[s.Instrument.Symbol] = s.Instrument
	}

	c := &FeedController{
		cm:          cm,
		agg:         agg,
		instruments: instruments,
	}

	// The rebind hook fires on the initial connect too, so the stream
	// callbacks are attached before the first subscription goes live.
	cm.OnRebind(c.bindSession)
	cm.On(provider.EventResumed, func() {
		logger.Printf("feed resumed after recovery")
	})

	return c
}

// Start brings the connection up and registers every configured symbol.
func (c *FeedController) Start() error {
	if err := c.cm.Start(); err != nil {
		return err
	}
	c.SubscribeAll()
	return nil
}

// SubscribeAll registers a persistent subscription per configured symbol.
// Symbols registered while disconnected go live on the next reconnection.
func (c *FeedController) SubscribeAll() {
	for sym, inst := range c.instruments {
		c.cm.Subscribe(sym, inst, provider.SubscriptionOptions{
			TickList: rtVolumeTickList,
		})
	}
}

func (c *FeedController) bindSession(sess interfaces.TerminalSession) {
	sess.OnTick(c.handleTick)
	sess.OnDepth(c.handleDepth)
}

func (c *FeedController) handleTick(symbol string, upd *domain.MarketUpdate) {
	promclient.TicksForwardedTotal.Inc()
	c.agg.OnTick(symbol, upd)
}

func (c *FeedController) handleDepth(symbol string, bids, asks []domain.PriceLevel) {
	promclient.DepthUpdatesTotal.Inc()
	c.agg.OnDomUpdate(symbol, bids, asks)
}

// Read pass-throughs consumed by the render layer.

func (c *FeedController) IsConnected() bool {
	return c.cm.IsConnected()
}

func (c *FeedController) LastPrice(symbol string) (float64, bool) {
	return c.agg.LastPrice(symbol)
}

func (c *FeedController) MarketSpeed(symbol string) float64 {
	return c.agg.Speed(symbol, defaultSpeedWindow)
}

func (c *FeedController) RollingData(symbol string, mode domain.ProfileMode, value int) (map[float64]float64, map[float64]float64) {
	return c.agg.RollingData(symbol, mode, value)
}

func (c *FeedController) CandlesData(symbol string, mode domain.ProfileMode, value, limit int) []domain.Candle {
	return c.agg.CandlesData(symbol, mode, value, limit)
}

func (c *FeedController) RollingVWAP(symbol string, minutes int) (float64, bool) {
	return c.agg.RollingVWAP(symbol, minutes)
}

func (c *FeedController) VWAP(symbol string) (float64, bool) {
	return c.agg.VWAP(symbol)
}

func (c *FeedController) DepthSnapshot(symbol string) (bids, asks map[float64]float64) {
	return c.agg.DepthSnapshot(symbol)
}

func (c *FeedController) TickSize(symbol string) float64 {
	return c.agg.TickSizeFor(symbol)
}

// ResetData discards a symbol's accumulated session state, or everything
// when symbol is empty.
func (c *FeedController) ResetData(symbol string) {
	c.agg.ResetSession(symbol)
}

// Order placement stays a thin pass-through to the trading API and is not
// part of the bridge; the stubs keep the calling contract visible.

func (c *FeedController) PlaceOrder(symbol, action string, qty float64, sl, tp int) {
	logger.Printf("[order] %s %s qty=%v (SL=%d, TP=%d)", action, symbol, qty, sl, tp)
}

func (c *FeedController) Flatten(symbol string) {
	logger.Printf("[flat] closing %s", symbol)
}
