package terminal

import (
	"encoding/json"
	"math/rand"

	"github.com/spooky-finn/go-terminal-bridge/domain"
)

// Request is one numbered call to the terminal API.
type Request struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the terminal's answer to a numbered request.
type Response struct {
	ID     int             `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

const (
	methodLogin       = "login"
	methodCurrentTime = "time"
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
)

const (
	eventTypeTick  = "tick"
	eventTypeDepth = "depth"
)

// streamEvent is an unsolicited message on the market-data stream.
type streamEvent struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`

	// tick events
	Update      *domain.MarketUpdate `json:"update,omitempty"`
	ClosePrice  float64              `json:"close,omitempty"`
	MarketPrice float64              `json:"marketPrice,omitempty"`

	// depth events
	Bids []domain.PriceLevel `json:"bids,omitempty"`
	Asks []domain.PriceLevel `json:"asks,omitempty"`
}

func newLoginRequest(clientID int) Request {
	return Request{
		ID:     nextReqID(),
		Method: methodLogin,
		Params: map[string]any{"clientId": clientID},
	}
}

func newSubscribeRequest(inst *domain.Instrument, tickList string, snapshot bool) Request {
	return Request{
		ID:     nextReqID(),
		Method: methodSubscribe,
		Params: map[string]any{
			"symbol":   inst.Symbol,
			"secType":  inst.SecType,
			"expiry":   inst.Expiry,
			"exchange": inst.Exchange,
			"currency": inst.Currency,
			"tickList": tickList,
			"snapshot": snapshot,
		},
	}
}

func newUnsubscribeRequest(inst *domain.Instrument) Request {
	return Request{
		ID:     nextReqID(),
		Method: methodUnsubscribe,
		Params: map[string]any{"symbol": inst.Symbol},
	}
}

func nextReqID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}
