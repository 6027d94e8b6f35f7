package domain

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// PreferMode selects which upstream tick source the aggregator ingests from.
type PreferMode string

const (
	// PreferAuto tries tick-by-tick first, then running volume, then last trade.
	PreferAuto          PreferMode = "auto"
	PreferTickByTick    PreferMode = "tbt"
	PreferRunningVolume PreferMode = "rtv"
)

const (
	defaultTickSize = 0.25

	// maxValidTickSize is the sanity ceiling: anything larger is treated as
	// corrupt feed noise and dropped.
	defaultMaxValidTickSize = 5000
)

type AggregatorConfig struct {
	TickSizes        map[string]float64
	DefaultTickSize  float64
	PreferMode       PreferMode
	MaxHistory       time.Duration
	MaxValidTickSize float64
}

type speedSample struct {
	ts   time.Time
	size float64
}

// symbolState holds everything the aggregator tracks for one symbol. States
// are created lazily on first tick via the get-or-create accessor, never by
// implicit map insertion on lookup.
type symbolState struct {
	volumeByPrice map[float64]float64
	deltaByPrice  map[float64]float64
	dom           *DepthLadder
	profile       *RollingProfile
	speed         deque.Deque[speedSample]
	vwap          VWAPState

	lastPrice float64
	hasLast   bool
	prevPrice float64
	hasPrev   bool
	prevDir   Direction

	// Running-volume baseline: the first observed total seeds the baseline
	// and ingests nothing, so startup never counts pre-existing volume.
	runningTotal    float64
	hasRunningTotal bool

	// Cursor into MarketUpdate.TickByTicks; records before it were consumed.
	tbtCursor int

	// Once a symbol has proven tick-by-tick availability, the cheaper
	// running-volume fallback stays disabled for the rest of the session.
	preferTickByTick bool

	// Previous (price, size) pair of the last-trade fallback, used to
	// deduplicate repeated snapshots.
	lastSeenPrice float64
	lastSeenSize  float64
}

// Aggregator owns per-symbol session state: last price, volume/delta by
// price, VWAP accumulators, DOM ladders and one RollingProfile per symbol.
// All mutation happens under one mutex; read accessors return point-in-time
// copies so the render loop never blocks ingestion for long.
type Aggregator struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState

	tickSizes        map[string]float64
	defaultTickSize  float64
	preferMode       PreferMode
	maxHistory       time.Duration
	maxValidTickSize float64
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.DefaultTickSize < 0 {
		return nil, fmt.Errorf("default tick size must not be negative, got %v", cfg.DefaultTickSize)
	}
	if cfg.DefaultTickSize == 0 {
		cfg.DefaultTickSize = defaultTickSize
	}
	if cfg.MaxValidTickSize <= 0 {
		cfg.MaxValidTickSize = defaultMaxValidTickSize
	}
	switch cfg.PreferMode {
	case "":
		cfg.PreferMode = PreferAuto
	case PreferAuto, PreferTickByTick, PreferRunningVolume:
	default:
		return nil, fmt.Errorf("unknown prefer mode %q", cfg.PreferMode)
	}

	tickSizes := make(map[string]float64, len(cfg.TickSizes))
	for sym, sz := range cfg.TickSizes {
		if sz <= 0 {
			sz = cfg.DefaultTickSize
		}
		tickSizes[sym] = sz
	}

	return &Aggregator{
		symbols:          make(map[string]*symbolState),
		tickSizes:        tickSizes,
		defaultTickSize:  cfg.DefaultTickSize,
		preferMode:       cfg.PreferMode,
		maxHistory:       cfg.MaxHistory,
		maxValidTickSize: cfg.MaxValidTickSize,
	}, nil
}

// state returns the symbol's state, creating it on first use.
// Caller must hold the write lock.
func (a *Aggregator) state(symbol string) *symbolState {
	st, ok := a.symbols[symbol]
	if !ok {
		st = &symbolState{
			volumeByPrice: make(map[float64]float64),
			deltaByPrice:  make(map[float64]float64),
			dom:           NewDepthLadder(),
			profile:       NewRollingProfile(a.maxHistory),
			prevDir:       DirectionUp,
		}
		a.symbols[symbol] = st
	}
	return st
}

// TickSizeFor returns the configured tick size for a symbol.
func (a *Aggregator) TickSizeFor(symbol string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tickSizeFor(symbol)
}

func (a *Aggregator) tickSizeFor(symbol string) float64 {
	if sz, ok := a.tickSizes[symbol]; ok {
		return sz
	}
	return a.defaultTickSize
}

// OnTick normalizes one raw market update into zero or more ingested ticks.
//
// Precedence: unconsumed tick-by-tick records win and lock the symbol to the
// tick-by-tick source for the session; otherwise the running-volume delta
// against the last observed total; otherwise the last-trade pair,
// deduplicated against the previous one.
func (a *Aggregator) OnTick(symbol string, upd *MarketUpdate) {
	if upd == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(symbol)
	ingested := false

	if a.preferMode == PreferAuto || a.preferMode == PreferTickByTick {
		if n := len(upd.TickByTicks); n > st.tbtCursor {
			for _, rec := range upd.TickByTicks[st.tbtCursor:] {
				if rec.Price <= 0 || rec.Size <= 0 {
					continue
				}
				a.ingest(st, symbol, rec.Price, rec.Size)
				ingested = true
				st.preferTickByTick = true
			}
			st.tbtCursor = n
		}
	}

	if !ingested && !st.preferTickByTick &&
		(a.preferMode == PreferAuto || a.preferMode == PreferRunningVolume) {
		if rv, ok := parseRTVolume(upd.RTVolume); ok {
			size := rv.size
			hasSize := rv.hasSize
			if rv.hasTotal {
				if !st.hasRunningTotal {
					st.hasRunningTotal = true
					st.runningTotal = rv.total
					size, hasSize = 0, true
				} else {
					size, hasSize = 0, true
					if rv.total > st.runningTotal {
						size = rv.total - st.runningTotal
					}
					st.runningTotal = rv.total
				}
			}
			if rv.hasPrice && rv.price > 0 && hasSize && size > 0 {
				a.ingest(st, symbol, rv.price, size)
				ingested = true
			}
		}
	}

	if !ingested && upd.Last > 0 && upd.LastSize > 0 {
		if st.lastSeenPrice != upd.Last || st.lastSeenSize != upd.LastSize {
			st.lastSeenPrice = upd.Last
			st.lastSeenSize = upd.LastSize
			a.ingest(st, symbol, upd.Last, upd.LastSize)
		}
	}
}

// ingest applies one normalized tick to the symbol's session state.
// Caller must hold the write lock.
func (a *Aggregator) ingest(st *symbolState, symbol string, price, size float64) {
	if size > a.maxValidTickSize {
		return
	}

	snapped := SnapToGrid(price, a.tickSizeFor(symbol))

	prev := price
	if st.hasPrev {
		prev = st.prevPrice
	}
	dir := st.prevDir
	if price > prev {
		dir = DirectionUp
	} else if price < prev {
		dir = DirectionDown
	}
	st.prevPrice = price
	st.hasPrev = true
	st.prevDir = dir

	st.lastPrice = snapped
	st.hasLast = true
	st.volumeByPrice[snapped] += size
	st.deltaByPrice[snapped] += size * float64(dir)
	st.vwap.TotalPV += price * size
	st.vwap.TotalVol += size
	st.profile.Add(snapped, size, dir)
	st.speed.PushBack(speedSample{ts: time.Now(), size: size})
}

type rtVolume struct {
	price, size, total          float64
	hasPrice, hasSize, hasTotal bool
}

// parseRTVolume decodes the running-volume generic tick wire form
// "price;size;time;totalVolume;...". Fields may be empty.
func parseRTVolume(raw string) (rtVolume, bool) {
	if raw == "" {
		return rtVolume{}, false
	}
	parts := strings.Split(raw, ";")
	if len(parts) < 4 {
		return rtVolume{}, false
	}

	var rv rtVolume
	if v, err := strconv.ParseFloat(parts[0], 64); err == nil && parts[0] != "" {
		rv.price, rv.hasPrice = v, true
	}
	if v, err := strconv.ParseFloat(parts[1], 64); err == nil && parts[1] != "" {
		rv.size, rv.hasSize = v, true
	}
	if v, err := strconv.ParseFloat(parts[3], 64); err == nil && parts[3] != "" {
		rv.total, rv.hasTotal = v, true
	}
	return rv, true
}

// OnDomUpdate replaces the symbol's bid/ask ladders wholesale.
func (a *Aggregator) OnDomUpdate(symbol string, bids, asks []PriceLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(symbol)
	st.dom.Replace(bids, asks, a.tickSizeFor(symbol))
}

// LastPrice returns the last snapped trade price for the symbol.
func (a *Aggregator) LastPrice(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok || !st.hasLast {
		return 0, false
	}
	return st.lastPrice, true
}

// Speed returns the total traded size over the trailing wall-clock window.
func (a *Aggregator) Speed(symbol string, window time.Duration) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return 0
	}

	limit := time.Now().Add(-window)
	for st.speed.Len() > 0 && st.speed.Front().ts.Before(limit) {
		st.speed.PopFront()
	}

	total := 0.0
	for i := 0; i < st.speed.Len(); i++ {
		total += st.speed.At(i).size
	}
	return total
}

// RollingData returns (volume-by-price, delta-by-price) over a trailing time
// window (minutes) or trailing volume window.
func (a *Aggregator) RollingData(symbol string, mode ProfileMode, value int) (map[float64]float64, map[float64]float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return map[float64]float64{}, map[float64]float64{}
	}
	return st.profile.Profile(mode, value)
}

// CandlesData synthesizes OHLCV bars bucketed by time (seconds) or by volume.
func (a *Aggregator) CandlesData(symbol string, mode ProfileMode, value, limit int) []Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return nil
	}
	return st.profile.Candles(mode, value, limit)
}

// RollingVWAP computes the VWAP over the trailing window in minutes.
func (a *Aggregator) RollingVWAP(symbol string, minutes int) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return 0, false
	}
	return st.profile.VWAP(minutes)
}

// VWAP returns the session volume-weighted average price.
func (a *Aggregator) VWAP(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok || st.vwap.TotalVol <= 0 {
		return 0, false
	}
	return st.vwap.TotalPV / st.vwap.TotalVol, true
}

// DepthSnapshot returns point-in-time copies of the bid/ask ladders.
func (a *Aggregator) DepthSnapshot(symbol string) (bids, asks map[float64]float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.symbols[symbol]
	if !ok {
		return map[float64]float64{}, map[float64]float64{}
	}
	return st.dom.Copy()
}

// ResetSession discards accumulated state for one symbol, or for every symbol
// when the argument is empty.
func (a *Aggregator) ResetSession(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if symbol != "" {
		delete(a.symbols, symbol)
		return
	}
	a.symbols = make(map[string]*symbolState)
}

// ExportState copies the persistable session state under the given key.
func (a *Aggregator) ExportState(session string) *SessionState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state := &SessionState{
		Session:       session,
		Schema:        SchemaVersion,
		VolumeByPrice: make(map[string]map[float64]float64, len(a.symbols)),
		LastPrice:     make(map[string]float64, len(a.symbols)),
		TickSize:      make(map[string]float64, len(a.tickSizes)),
		VWAP:          make(map[string]VWAPState, len(a.symbols)),
		Rolling:       make(map[string][]HistoryEntry, len(a.symbols)),
	}

	for sym, sz := range a.tickSizes {
		state.TickSize[sym] = sz
	}
	for sym, st := range a.symbols {
		vbp := make(map[float64]float64, len(st.volumeByPrice))
		for px, sz := range st.volumeByPrice {
			vbp[px] = sz
		}
		state.VolumeByPrice[sym] = vbp
		if st.hasLast {
			state.LastPrice[sym] = st.lastPrice
		}
		state.VWAP[sym] = st.vwap
		state.Rolling[sym] = st.profile.Entries()
	}
	return state
}

// RestoreState merges a previously persisted session back into live state.
// Validation of session key and schema version is the store's concern; a nil
// state is a no-op.
func (a *Aggregator) RestoreState(state *SessionState) {
	if state == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, sz := range state.TickSize {
		if sz > 0 {
			a.tickSizes[sym] = sz
		}
	}
	for sym, vbp := range state.VolumeByPrice {
		st := a.state(sym)
		for px, sz := range vbp {
			st.volumeByPrice[px] = sz
		}
	}
	for sym, px := range state.LastPrice {
		st := a.state(sym)
		st.lastPrice = px
		st.hasLast = true
	}
	for sym, vw := range state.VWAP {
		a.state(sym).vwap = vw
	}
	for sym, entries := range state.Rolling {
		a.state(sym).profile = NewRollingProfileFromHistory(a.maxHistory, entries)
	}
}
