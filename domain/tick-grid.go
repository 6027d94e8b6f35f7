package domain

import "math"

// SnapToGrid rounds a price to the nearest multiple of the instrument's tick
// size. A non-positive tick size leaves the price untouched. The result is
// rounded to 6 decimals so snapped prices are stable map keys.
func SnapToGrid(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}

	steps := math.Round(price / tickSize)
	return math.Round(steps*tickSize*1e6) / 1e6
}
