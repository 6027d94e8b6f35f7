package terminal

import "sync"

// Ticker is the live handle of one market-data subscription. The session
// updates it from stream events; the connection manager polls Ready while
// waiting for the feed to stabilize after a reconnect.
type Ticker struct {
	mu sync.Mutex

	symbol      string
	last        float64
	closePrice  float64
	marketPrice float64
}

func newTicker(symbol string) *Ticker {
	return &Ticker{symbol: symbol}
}

func (t *Ticker) Symbol() string {
	return t.symbol
}

// Ready reports whether any of last trade, close or computed market price has
// been observed since the handle was created.
func (t *Ticker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last > 0 || t.closePrice > 0 || t.marketPrice > 0
}

func (t *Ticker) observe(last, closePrice, marketPrice float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last > 0 {
		t.last = last
	}
	if closePrice > 0 {
		t.closePrice = closePrice
	}
	if marketPrice > 0 {
		t.marketPrice = marketPrice
	}
}
