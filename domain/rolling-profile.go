package domain

import (
	"time"

	"github.com/gammazero/deque"
)

// ProfileMode selects how a rolling query bounds its window.
type ProfileMode string

const (
	ProfileModeTime   ProfileMode = "time"
	ProfileModeVolume ProfileMode = "vol"
)

const (
	defaultMaxHistory = 2 * time.Hour

	// trimEvery amortizes head eviction: the expiry scan runs once per this
	// many appends instead of on every tick.
	trimEvery = 100
)

// HistoryEntry is one ingested tick in a profile's time-ordered log.
// Timestamps are monotonically non-decreasing in append order.
type HistoryEntry struct {
	Ts        time.Time `msgpack:"ts"`
	Price     float64   `msgpack:"price"`
	Size      float64   `msgpack:"size"`
	Direction Direction `msgpack:"dir"`
}

// Candle is one OHLCV bar synthesized from the history log.
type Candle struct {
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Delta  float64
}

// RollingProfile keeps a bounded, time-ordered log of ticks for one symbol and
// answers volume/delta-over-window queries and candle synthesis on demand.
// It is not safe for concurrent use; the owning Aggregator serializes access.
type RollingProfile struct {
	history    deque.Deque[HistoryEntry]
	maxHistory time.Duration
	appends    int
}

func NewRollingProfile(maxHistory time.Duration) *RollingProfile {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &RollingProfile{maxHistory: maxHistory}
}

// NewRollingProfileFromHistory rebuilds a profile from a persisted log.
func NewRollingProfileFromHistory(maxHistory time.Duration, entries []HistoryEntry) *RollingProfile {
	p := NewRollingProfile(maxHistory)
	for _, e := range entries {
		p.history.PushBack(e)
	}
	return p
}

// Add appends one tick at the current time.
func (p *RollingProfile) Add(price, size float64, direction Direction) {
	p.addAt(time.Now(), price, size, direction)
}

func (p *RollingProfile) addAt(ts time.Time, price, size float64, direction Direction) {
	p.history.PushBack(HistoryEntry{Ts: ts, Price: price, Size: size, Direction: direction})
	p.appends++

	if p.appends%trimEvery == 0 {
		limit := ts.Add(-p.maxHistory)
		for p.history.Len() > 0 && p.history.Front().Ts.Before(limit) {
			p.history.PopFront()
		}
	}
}

// Profile returns (volume-by-price, delta-by-price) over a trailing window.
// In time mode value is minutes; in volume mode it is the target cumulative
// size. Scans backward from the newest entry and stops at the boundary.
func (p *RollingProfile) Profile(mode ProfileMode, value int) (map[float64]float64, map[float64]float64) {
	volume := make(map[float64]float64)
	delta := make(map[float64]float64)

	switch mode {
	case ProfileModeTime:
		limit := time.Now().Add(-time.Duration(value) * time.Minute)
		for i := p.history.Len() - 1; i >= 0; i-- {
			e := p.history.At(i)
			if e.Ts.Before(limit) {
				break
			}
			volume[e.Price] += e.Size
			delta[e.Price] += e.Size * float64(e.Direction)
		}

	case ProfileModeVolume:
		cum := 0.0
		for i := p.history.Len() - 1; i >= 0; i-- {
			e := p.history.At(i)
			cum += e.Size
			volume[e.Price] += e.Size
			delta[e.Price] += e.Size * float64(e.Direction)
			if cum >= float64(value) {
				break
			}
		}
	}

	return volume, delta
}

// Candles buckets the history into OHLCV bars in forward chronological order.
// Time buckets are aligned to the timeframe (value seconds); volume buckets
// close once value size has accumulated. The in-progress bucket is included
// as the most recent bar. At most limit bars are returned.
func (p *RollingProfile) Candles(mode ProfileMode, value int, limit int) []Candle {
	if p.history.Len() == 0 || value <= 0 {
		return nil
	}

	var candles []Candle
	var current Candle
	open := false

	var bucketEnd int64
	if mode == ProfileModeTime {
		first := p.history.Front().Ts.Unix()
		bucketEnd = first/int64(value)*int64(value) + int64(value)
	}

	for i := 0; i < p.history.Len(); i++ {
		e := p.history.At(i)

		closeBucket := false
		switch mode {
		case ProfileModeTime:
			if e.Ts.Unix() >= bucketEnd {
				closeBucket = true
				bucketEnd = e.Ts.Unix()/int64(value)*int64(value) + int64(value)
			}
		case ProfileModeVolume:
			closeBucket = current.Volume >= float64(value)
		}

		if closeBucket && open {
			candles = append(candles, current)
			current = Candle{}
			open = false
		}

		if !open {
			current = Candle{Ts: e.Ts, Open: e.Price, High: e.Price, Low: e.Price}
			open = true
		}
		if e.Price > current.High {
			current.High = e.Price
		}
		if e.Price < current.Low {
			current.Low = e.Price
		}
		current.Close = e.Price
		current.Volume += e.Size
		current.Delta += e.Size * float64(e.Direction)
	}

	if open {
		candles = append(candles, current)
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles
}

// VWAP computes the volume-weighted average price over the trailing window.
// The second return is false when no volume fell inside the window.
func (p *RollingProfile) VWAP(minutes int) (float64, bool) {
	limit := time.Now().Add(-time.Duration(minutes) * time.Minute)

	totalPV, totalVol := 0.0, 0.0
	for i := p.history.Len() - 1; i >= 0; i-- {
		e := p.history.At(i)
		if e.Ts.Before(limit) {
			break
		}
		totalPV += e.Price * e.Size
		totalVol += e.Size
	}

	if totalVol <= 0 {
		return 0, false
	}
	return totalPV / totalVol, true
}

// Entries copies out the full history, oldest first, for persistence.
func (p *RollingProfile) Entries() []HistoryEntry {
	out := make([]HistoryEntry, p.history.Len())
	for i := 0; i < p.history.Len(); i++ {
		out[i] = p.history.At(i)
	}
	return out
}

func (p *RollingProfile) Len() int {
	return p.history.Len()
}
