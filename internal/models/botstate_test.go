package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *BotState {
	return NewBotState([]string{"NIFTY", "SENSEX"})
}

func TestBotStateSnapshotAggregatesPnL(t *testing.T) {
	s := newTestState()

	require.NoError(t, s.Transition("NIFTY", StateEntering, CondEntryWindow))
	require.NoError(t, s.Transition("NIFTY", StateActive, CondLegsPlaced))
	s.SetUnrealized("NIFTY", 845, []string{"SELL 25200CE Entry:₹40.0 LTP:₹30.0 P&L:₹650"})
	s.SetUnrealized("SENSEX", -120, nil)
	s.AddRealized("SENSEX", 900)

	snap := s.Snapshot()
	assert.InDelta(t, 845-120+0, snap.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 900, snap.RealizedPnL, 1e-9)
	assert.Equal(t, StateActive, snap.Indices["NIFTY"].State)
	require.Len(t, snap.Indices["NIFTY"].Positions, 1)
}

func TestBotStateSnapshotIsDeepCopy(t *testing.T) {
	s := newTestState()
	s.SetUnrealized("NIFTY", 100, []string{"line"})
	s.AddTrade(Trade{ID: "t1", Index: "NIFTY", Kind: "entry"})

	snap := s.Snapshot()
	snap.Indices["NIFTY"].Positions[0] = "mutated"
	snap.Trades[0].ID = "mutated"

	fresh := s.Snapshot()
	assert.Equal(t, "line", fresh.Indices["NIFTY"].Positions[0])
	assert.Equal(t, "t1", fresh.Trades[0].ID)
}

func TestBotStateAddRealizedClearsUnrealized(t *testing.T) {
	s := newTestState()
	s.SetUnrealized("NIFTY", 500, []string{"leg"})

	s.AddRealized("NIFTY", 2470)

	snap := s.Snapshot()
	assert.Zero(t, snap.Indices["NIFTY"].UnrealizedPnL)
	assert.Empty(t, snap.Indices["NIFTY"].Positions)
	assert.InDelta(t, 2470, snap.Indices["NIFTY"].RealizedPnL, 1e-9)
	assert.InDelta(t, 2470, snap.RealizedPnL, 1e-9)
}

func TestBotStateResetDaily(t *testing.T) {
	s := newTestState()
	s.SetRunning(true)
	require.NoError(t, s.Transition("NIFTY", StateEntering, CondEntryWindow))
	require.NoError(t, s.Transition("NIFTY", StateActive, CondLegsPlaced))
	s.AddRealized("NIFTY", 1500)
	s.AddTrade(Trade{ID: "t1"})

	s.ResetDaily("2026-02-10")

	snap := s.Snapshot()
	assert.True(t, snap.Running, "daily reset must preserve the running flag")
	assert.Equal(t, "2026-02-10", s.TradingDate())
	assert.Zero(t, snap.RealizedPnL)
	assert.Empty(t, snap.Trades)
	assert.Equal(t, StateIdle, snap.Indices["NIFTY"].State)
	assert.Equal(t, StateIdle, s.StateOf("NIFTY"))
}

func TestBotStateUnknownIndex(t *testing.T) {
	s := newTestState()
	assert.Equal(t, StateIdle, s.StateOf("BANKNIFTY"))
	assert.Error(t, s.Transition("BANKNIFTY", StateEntering, CondEntryWindow))
}

func TestBotStateConcurrentAccess(t *testing.T) {
	s := newTestState()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.SetUnrealized("NIFTY", float64(n), []string{"leg"})
			s.SetStatus("tick %d", n)
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			_ = s.Running()
		}()
	}
	wg.Wait()
}
