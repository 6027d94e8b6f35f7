package domain

// Direction of a trade relative to the previous observed price.
type Direction int

const (
	DirectionUp   Direction = 1
	DirectionDown Direction = -1
)

// TickSource identifies which upstream feed produced an ingested tick.
type TickSource string

const (
	TickSourceTickByTick    TickSource = "TBT"
	TickSourceRunningVolume TickSource = "RTV"
	TickSourceLastTrade     TickSource = "LAST"
)

// Tick is one normalized market event after ingestion.
type Tick struct {
	Price     float64
	Size      float64
	Direction Direction
	Source    TickSource
}

// TradeRecord is a single execution from the tick-by-tick feed.
type TradeRecord struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketUpdate is the raw, heterogeneous payload delivered by the terminal for
// one market-data event. Any combination of fields may be present; the
// Aggregator decides which source to ingest from.
type MarketUpdate struct {
	// TickByTicks is the cumulative list of tick-by-tick trades seen on the
	// live ticker. The aggregator keeps a per-symbol cursor into it.
	TickByTicks []TradeRecord `json:"tickByTicks,omitempty"`

	// RTVolume is the running-volume generic tick in its wire form:
	// "price;size;time;totalVolume;...". Empty when the feed is absent.
	RTVolume string `json:"rtVolume,omitempty"`

	Last     float64 `json:"last,omitempty"`
	LastSize float64 `json:"lastSize,omitempty"`
}

// PriceLevel is one side entry of a depth-of-market update.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}
