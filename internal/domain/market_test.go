package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarketStatusTransitions(t *testing.T) {
	cases := []struct {
		from    MarketStatus
		to      MarketStatus
		allowed bool
	}{
		{MarketStatusActive, MarketStatusClosed, true},
		{MarketStatusActive, MarketStatusCancelled, true},
		{MarketStatusActive, MarketStatusSettled, false},
		{MarketStatusClosed, MarketStatusSettled, true},
		{MarketStatusClosed, MarketStatusCancelled, true},
		{MarketStatusClosed, MarketStatusActive, false},
		{MarketStatusSettled, MarketStatusCancelled, false},
		{MarketStatusCancelled, MarketStatusActive, false},
		{MarketStatusCancelled, MarketStatusSettled, false},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"_to_"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to))
		})
	}
}

func TestMarketStatusTerminal(t *testing.T) {
	assert.False(t, MarketStatusActive.Terminal())
	assert.False(t, MarketStatusClosed.Terminal())
	assert.True(t, MarketStatusSettled.Terminal())
	assert.True(t, MarketStatusCancelled.Terminal())
}

func TestMarketStatusString(t *testing.T) {
	assert.Equal(t, "active", MarketStatusActive.String())
	assert.Equal(t, "closed", MarketStatusClosed.String())
	assert.Equal(t, "settled", MarketStatusSettled.String())
	assert.Equal(t, "cancelled", MarketStatusCancelled.String())
	assert.Equal(t, "unknown", MarketStatus(99).String())
}

func TestMarketValidOption(t *testing.T) {
	m := Market{Options: []string{"Yes", "No", "Maybe"}}
	assert.True(t, m.ValidOption(0))
	assert.True(t, m.ValidOption(2))
	assert.False(t, m.ValidOption(3))
}

func TestMarketEnded(t *testing.T) {
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	m := Market{EndTime: end}

	assert.False(t, m.Ended(end.Add(-time.Second)))
	assert.True(t, m.Ended(end), "end time itself counts as ended")
	assert.True(t, m.Ended(end.Add(time.Second)))
}

func TestHandleHexRoundTrip(t *testing.T) {
	h := Handle{0xde, 0xad, 0xbe, 0xef}
	parsed, err := HandleFromHex(h.Hex())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = HandleFromHex("0x1234")
	assert.Error(t, err, "short handles are rejected")
	_, err = HandleFromHex("zz")
	assert.Error(t, err)

	assert.True(t, Handle{}.IsZero())
	assert.False(t, h.IsZero())
}
