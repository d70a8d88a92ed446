package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourLegs() []Leg {
	return []Leg{
		{Strike: 25200, Right: RightCall, Action: ActionSell, EntryPremium: 40},
		{Strike: 25400, Right: RightCall, Action: ActionBuy, EntryPremium: 15},
		{Strike: 24800, Right: RightPut, Action: ActionSell, EntryPremium: 35},
		{Strike: 24600, Right: RightPut, Action: ActionBuy, EntryPremium: 12},
	}
}

func TestLegPnLSignConventions(t *testing.T) {
	tests := []struct {
		name     string
		leg      Leg
		current  float64
		qty      int
		expected float64
	}{
		{
			name:     "short leg profits on decay",
			leg:      Leg{Strike: 25200, Right: RightCall, Action: ActionSell, EntryPremium: 30},
			current:  10,
			qty:      75,
			expected: 1500,
		},
		{
			name:     "short leg loses when premium rises",
			leg:      Leg{Strike: 25200, Right: RightCall, Action: ActionSell, EntryPremium: 30},
			current:  45,
			qty:      75,
			expected: -1125,
		},
		{
			name:     "long leg loses on decay",
			leg:      Leg{Strike: 25400, Right: RightCall, Action: ActionBuy, EntryPremium: 30},
			current:  10,
			qty:      75,
			expected: -1500,
		},
		{
			name:     "long leg profits when premium rises",
			leg:      Leg{Strike: 25400, Right: RightCall, Action: ActionBuy, EntryPremium: 10},
			current:  25,
			qty:      65,
			expected: 975,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.leg.PnL(tt.current, tt.qty), 1e-9)
		})
	}
}

func TestLegString(t *testing.T) {
	sell := Leg{Strike: 25200, Right: RightCall, Action: ActionSell, EntryPremium: 42.5}
	assert.Equal(t, "SELL 25200CE @₹42.50", sell.String())

	buy := Leg{Strike: 24600, Right: RightPut, Action: ActionBuy, EntryPremium: 12}
	assert.Equal(t, "BUY  24600PE @₹12.00", buy.String())
}

func TestActionInverse(t *testing.T) {
	assert.Equal(t, ActionBuy, ActionSell.Inverse())
	assert.Equal(t, ActionSell, ActionBuy.Inverse())
}

func TestCondorPositionOpenRequiresFourLegs(t *testing.T) {
	var pos CondorPosition

	err := pos.Open(fourLegs()[:3], "12-Feb-2026", 65, 24987, 48)
	require.Error(t, err)
	assert.False(t, pos.IsOpen())

	require.NoError(t, pos.Open(fourLegs(), "12-Feb-2026", 65, 24987, 48))
	assert.True(t, pos.IsOpen())
	assert.InDelta(t, 3120, pos.PremiumCollected, 1e-9)

	// Opening on top of an open position is rejected
	err = pos.Open(fourLegs(), "12-Feb-2026", 65, 24987, 48)
	assert.Error(t, err)
}

func TestCondorPositionClear(t *testing.T) {
	var pos CondorPosition
	require.NoError(t, pos.Open(fourLegs(), "12-Feb-2026", 65, 24987, 48))

	pos.Clear()
	assert.False(t, pos.IsOpen())
	assert.Zero(t, pos.PremiumCollected)
	assert.Empty(t, pos.Legs)
}

func TestCondorPositionDescribe(t *testing.T) {
	var pos CondorPosition
	require.NoError(t, pos.Open(fourLegs(), "12-Feb-2026", 65, 24987, 48))

	lines := pos.Describe()
	require.Len(t, lines, 4)
	assert.Equal(t, "SELL 25200CE @₹40.00", lines[0])
}
