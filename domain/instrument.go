package domain

import "fmt"

// Instrument describes a tradable contract on the terminal side.
type Instrument struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Expiry   string `json:"expiry"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

func NewInstrument(symbol, secType, expiry, exchange, currency string) (*Instrument, error) {
	if symbol == "" {
		return nil, fmt.Errorf("instrument symbol is required")
	}
	if secType == "" {
		secType = "FUT"
	}
	if exchange == "" {
		exchange = "CME"
	}
	if currency == "" {
		currency = "USD"
	}

	return &Instrument{
		Symbol:   symbol,
		SecType:  secType,
		Expiry:   expiry,
		Exchange: exchange,
		Currency: currency,
	}, nil
}

func (i *Instrument) String() string {
	return fmt.Sprintf("%s-%s-%s@%s", i.Symbol, i.SecType, i.Expiry, i.Exchange)
}
