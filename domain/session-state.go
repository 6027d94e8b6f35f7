package domain

// SchemaVersion guards persisted snapshots: a stored state with a different
// version is discarded on load rather than migrated.
const SchemaVersion = 3

// VWAPState holds the session VWAP accumulators for one symbol.
type VWAPState struct {
	TotalPV  float64 `msgpack:"totalPV"`
	TotalVol float64 `msgpack:"totalVol"`
}

// SessionState is the persisted layout of one trading session's accumulated
// aggregation state, keyed by symbol throughout.
type SessionState struct {
	Session string `msgpack:"session"`
	Schema  int    `msgpack:"schema"`

	VolumeByPrice map[string]map[float64]float64 `msgpack:"vbp"`
	LastPrice     map[string]float64             `msgpack:"lastPx"`
	TickSize      map[string]float64             `msgpack:"tickSz"`
	VWAP          map[string]VWAPState           `msgpack:"vwap"`
	Rolling       map[string][]HistoryEntry      `msgpack:"rolling"`
}
