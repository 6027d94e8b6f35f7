package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbols(t *testing.T) {
	symbols, err := parseSymbols("MNQ:FUT:202512:CME:USD:0.25, NQ:FUT:202512:CME:USD:0.25")
	require.NoError(t, err)
	require.Len(t, symbols, 2)

	assert.Equal(t, "MNQ", symbols[0].Instrument.Symbol)
	assert.Equal(t, "FUT", symbols[0].Instrument.SecType)
	assert.Equal(t, "202512", symbols[0].Instrument.Expiry)
	assert.Equal(t, 0.25, symbols[0].TickSize)
	assert.Equal(t, "NQ", symbols[1].Instrument.Symbol)
}

func TestParseSymbols_Malformed(t *testing.T) {
	_, err := parseSymbols("MNQ:FUT:202512:CME:USD")
	assert.Error(t, err, "missing tick size field")

	_, err = parseSymbols("MNQ:FUT:202512:CME:USD:zero")
	assert.Error(t, err)

	_, err = parseSymbols("MNQ:FUT:202512:CME:USD:-0.25")
	assert.Error(t, err, "tick size must be positive")

	_, err = parseSymbols("")
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.TerminalHost)
	assert.Equal(t, 7497, cfg.TerminalPort)
	assert.Equal(t, 1, cfg.BaseClientID)
	assert.Equal(t, 12, cfg.ClientIDSpan)
	assert.Len(t, cfg.Symbols, 2)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("TERMINAL_PORT", "99999")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvertedBackoff(t *testing.T) {
	t.Setenv("RECONNECT_FIRST_BACKOFF_SEC", "30")
	t.Setenv("RECONNECT_MAX_BACKOFF_SEC", "2")
	_, err := Load()
	assert.Error(t, err)
}

func TestTickSizes(t *testing.T) {
	symbols, err := parseSymbols("MNQ:FUT:202512:CME:USD:0.25,ES:FUT:202512:CME:USD:0.5")
	require.NoError(t, err)

	cfg := &Config{Symbols: symbols}
	assert.Equal(t, map[string]float64{"MNQ": 0.25, "ES": 0.5}, cfg.TickSizes())
}
