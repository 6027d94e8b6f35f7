package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey_BeforeCutover(t *testing.T) {
	now := time.Date(2024, 3, 12, 14, 30, 0, 0, sessionLocation)
	assert.Equal(t, "2024-03-12", SessionKey(now))
}

func TestSessionKey_AfterCutover(t *testing.T) {
	// 18:00 local starts the next trading session.
	now := time.Date(2024, 3, 12, 18, 0, 0, 0, sessionLocation)
	assert.Equal(t, "2024-03-13", SessionKey(now))

	now = time.Date(2024, 3, 12, 23, 59, 0, 0, sessionLocation)
	assert.Equal(t, "2024-03-13", SessionKey(now))
}

func TestSessionKey_CutoverBoundary(t *testing.T) {
	before := time.Date(2024, 3, 12, 17, 59, 59, 0, sessionLocation)
	after := time.Date(2024, 3, 12, 18, 0, 1, 0, sessionLocation)
	assert.NotEqual(t, SessionKey(before), SessionKey(after))
}
