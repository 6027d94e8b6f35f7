package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstrument(t *testing.T) {
	inst, err := NewInstrument("MNQ", "FUT", "202512", "CME", "USD")
	require.NoError(t, err)
	assert.Equal(t, "MNQ-FUT-202512@CME", inst.String())
}

func TestNewInstrument_Defaults(t *testing.T) {
	inst, err := NewInstrument("NQ", "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "FUT", inst.SecType)
	assert.Equal(t, "CME", inst.Exchange)
	assert.Equal(t, "USD", inst.Currency)
}

func TestNewInstrument_RequiresSymbol(t *testing.T) {
	_, err := NewInstrument("", "FUT", "202512", "CME", "USD")
	assert.Error(t, err)
}
