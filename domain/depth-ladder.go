package domain

// DepthLadder is the current bid/ask ladder for one symbol, keyed by snapped
// price. Ladders are replaced wholesale on every depth update: the terminal's
// depth snapshots are authoritative, not incremental.
type DepthLadder struct {
	Bids map[float64]float64
	Asks map[float64]float64
}

func NewDepthLadder() *DepthLadder {
	return &DepthLadder{
		Bids: make(map[float64]float64),
		Asks: make(map[float64]float64),
	}
}

// Replace swaps in new ladders built from raw levels: each price is snapped to
// the tick grid (aggregating levels that collapse onto the same rung) and
// zero or negative sizes are discarded.
func (d *DepthLadder) Replace(bids, asks []PriceLevel, tickSize float64) {
	d.Bids = snapLevels(bids, tickSize)
	d.Asks = snapLevels(asks, tickSize)
}

func snapLevels(levels []PriceLevel, tickSize float64) map[float64]float64 {
	out := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		if lvl.Size <= 0 {
			continue
		}
		out[SnapToGrid(lvl.Price, tickSize)] += lvl.Size
	}
	return out
}

// Copy returns an independent snapshot of both sides.
func (d *DepthLadder) Copy() (bids, asks map[float64]float64) {
	bids = make(map[float64]float64, len(d.Bids))
	for px, sz := range d.Bids {
		bids[px] = sz
	}
	asks = make(map[float64]float64, len(d.Asks))
	for px, sz := range d.Asks {
		asks[px] = sz
	}
	return bids, asks
}
