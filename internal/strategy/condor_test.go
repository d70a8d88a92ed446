package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/config"
	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/retry"
)

// mockBroker serves canned quotes and records orders.
type mockBroker struct {
	mu        sync.Mutex
	spot      float64
	spotErr   error
	premiums  map[string]float64 // "strike-right" -> premium
	quoteErr  map[string]error
	failLegs  map[string]error // "strike-action" -> order error
	orders    []string         // "action strike right"
	spotCalls int
}

func newMockBroker(spot float64) *mockBroker {
	return &mockBroker{
		spot:     spot,
		premiums: make(map[string]float64),
		quoteErr: make(map[string]error),
		failLegs: make(map[string]error),
	}
}

func quoteKey(strike float64, right models.Right) string {
	return fmt.Sprintf("%.0f-%s", strike, right)
}

func orderKey(strike float64, action models.Action) string {
	return fmt.Sprintf("%.0f-%s", strike, action)
}

func (m *mockBroker) setPremium(strike float64, right models.Right, premium float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiums[quoteKey(strike, right)] = premium
}

func (m *mockBroker) orderLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.orders...)
}

func (m *mockBroker) Connect(context.Context) error { return nil }

func (m *mockBroker) GetSpotPrice(context.Context, broker.Instrument) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spotCalls++
	return m.spot, m.spotErr
}

func (m *mockBroker) GetOptionLTP(_ context.Context, _ broker.Instrument, strike float64,
	right models.Right, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.quoteErr[quoteKey(strike, right)]; err != nil {
		return 0, err
	}
	return m.premiums[quoteKey(strike, right)], nil
}

func (m *mockBroker) PlaceOrder(_ context.Context, _ broker.Instrument, strike float64,
	right models.Right, action models.Action, _ int, _ string) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLegs[orderKey(strike, action)]; err != nil {
		return nil, err
	}
	m.orders = append(m.orders, fmt.Sprintf("%s %.0f %s", action, strike, right.Short()))
	return &broker.OrderResult{OrderID: fmt.Sprintf("ORD-%d", len(m.orders))}, nil
}

func (m *mockBroker) GetPositions(context.Context) ([]broker.PositionItem, error) { return nil, nil }

func (m *mockBroker) UpdateSessionToken(string) {}

func niftyConfig() *config.IndexConfig {
	return &config.IndexConfig{
		Name:         "NIFTY",
		StockCode:    "NIFTY",
		CashCode:     "NIFTY 50",
		Exchange:     "NFO",
		CashExchange: "NSE",
		LotQty:       65,
		StrikeStep:   50,
		ExpiryDay:    "thursday",
		Enabled:      true,
		LotSize:      1,
		CESellOffset: 200,
		CEBuyOffset:  400,
		PESellOffset: 200,
		PEBuyOffset:  400,
		MinPremium:   20,
		MaxLoss:      5000,
		TargetProfit: 3000,
	}
}

func fastOpts() []Option {
	return []Option{
		WithLegPause(0),
		WithRetryConfig(retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond}),
	}
}

func newTestStrategy(b broker.Broker, rollback bool) *CondorStrategy {
	return NewCondorStrategy(b, niftyConfig(), time.UTC, rollback, fastOpts()...)
}

// Spot 24987 with 200/400 offsets and a 50-point step yields strikes
// 25200 / 25400 / 24800 / 24600.
func seedEntryQuotes(m *mockBroker) {
	m.setPremium(25200, models.RightCall, 40)
	m.setPremium(25400, models.RightCall, 15)
	m.setPremium(24800, models.RightPut, 35)
	m.setPremium(24600, models.RightPut, 12)
}

func TestEnterPositionHappyPath(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	result, err := s.EnterPosition(context.Background())
	require.NoError(t, err)
	require.False(t, result.Aborted)
	assert.False(t, result.Partial)

	// Sequential leg order: CE sell, CE buy, PE sell, PE buy
	assert.Equal(t, []string{
		"sell 25200 CE",
		"buy 25400 CE",
		"sell 24800 PE",
		"buy 24600 PE",
	}, mock.orderLog())

	// Net premium (40 + 35 - 15 - 12) × 65 = 3120
	assert.InDelta(t, 48, result.NetPremium, 1e-9)
	assert.InDelta(t, 3120, result.Total, 1e-9)
	assert.Equal(t, 65, result.Quantity)
	assert.True(t, s.HasPosition())

	pos := s.Position()
	require.Len(t, pos.Legs, 4)
	assert.InDelta(t, 24987, pos.SpotAtEntry, 1e-9)
	assert.InDelta(t, 3120, pos.PremiumCollected, 1e-9)
}

func TestEnterPositionAbortsBelowMinPremium(t *testing.T) {
	tests := []struct {
		name   string
		strike float64
		right  models.Right
	}{
		{"ce premium below min", 25200, models.RightCall},
		{"pe premium below min", 24800, models.RightPut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockBroker(24987)
			seedEntryQuotes(mock)
			mock.setPremium(tt.strike, tt.right, 12.5) // below the ₹20 minimum
			s := newTestStrategy(mock, true)

			result, err := s.EnterPosition(context.Background())
			require.NoError(t, err)
			assert.True(t, result.Aborted)
			assert.Contains(t, result.AbortReason, "below min")

			// The abort must happen before any order goes out
			assert.Empty(t, mock.orderLog())
			assert.False(t, s.HasPosition())
		})
	}
}

func TestEnterPositionAlreadyOpen(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.NoError(t, err)

	_, err = s.EnterPosition(context.Background())
	assert.ErrorContains(t, err, "already open")
	assert.Len(t, mock.orderLog(), 4)
}

func TestEnterPositionSpotFailure(t *testing.T) {
	mock := newMockBroker(0)
	mock.spotErr = errors.New("gateway down")
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	assert.Error(t, err)
	assert.Empty(t, mock.orderLog())
}

func TestEnterPositionPartialFailureRollsBack(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	mock.failLegs[orderKey(24800, models.ActionSell)] = errors.New("order rejected")
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.ErrorContains(t, err, "rolled back")
	assert.False(t, s.HasPosition())

	// Three legs placed, then three inverse rollback orders
	assert.Equal(t, []string{
		"sell 25200 CE",
		"buy 25400 CE",
		"buy 24600 PE",
		"buy 25200 CE",
		"sell 25400 CE",
		"sell 24600 PE",
	}, mock.orderLog())
}

func TestEnterPositionPartialFailureKeptForManualHandling(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	mock.failLegs[orderKey(24800, models.ActionSell)] = errors.New("order rejected")
	s := newTestStrategy(mock, false)

	result, err := s.EnterPosition(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.FailedLegs)

	// No rollback orders, position tracked for manual intervention
	assert.Len(t, mock.orderLog(), 3)
	assert.True(t, s.HasPosition())
}

func TestExitPosition(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.NoError(t, err)

	// Premiums at exit time
	mock.setPremium(25200, models.RightCall, 10)
	mock.setPremium(25400, models.RightCall, 5)
	mock.setPremium(24800, models.RightPut, 8)
	mock.setPremium(24600, models.RightPut, 3)

	result, err := s.ExitPosition(context.Background(), "scheduled exit")
	require.NoError(t, err)
	assert.False(t, result.Flat)

	// Exit cost: buy back shorts (10 + 8) × 65, sell longs -(5 + 3) × 65 = 650
	// Realized: 3120 - 650 = 2470
	assert.InDelta(t, 2470, result.RealizedPnL, 1e-9)
	assert.False(t, s.HasPosition())

	// Four inverse closing orders after the four entry orders
	log := mock.orderLog()
	require.Len(t, log, 8)
	assert.Equal(t, []string{
		"buy 25200 CE",
		"sell 25400 CE",
		"buy 24800 PE",
		"sell 24600 PE",
	}, log[4:])
}

func TestExitPositionFlatIsNoOp(t *testing.T) {
	mock := newMockBroker(24987)
	s := newTestStrategy(mock, true)

	result, err := s.ExitPosition(context.Background(), "scheduled exit")
	require.NoError(t, err)
	assert.True(t, result.Flat)
	assert.Zero(t, result.RealizedPnL)
	assert.Empty(t, mock.orderLog())

	// Repeated exits stay silent
	result, err = s.ExitPosition(context.Background(), "scheduled exit")
	require.NoError(t, err)
	assert.True(t, result.Flat)
	assert.Empty(t, mock.orderLog())
}

func TestExitPositionClearsLegsOnFailedOrder(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.NoError(t, err)

	mock.failLegs[orderKey(25200, models.ActionBuy)] = errors.New("order rejected")

	result, err := s.ExitPosition(context.Background(), "stop loss")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedLegs)
	assert.False(t, s.HasPosition(), "legs must clear even when a closing order fails")
}

func TestLivePnL(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.NoError(t, err)

	// Shorts decayed, longs decayed too
	mock.setPremium(25200, models.RightCall, 30)
	mock.setPremium(25400, models.RightCall, 10)
	mock.setPremium(24800, models.RightPut, 25)
	mock.setPremium(24600, models.RightPut, 10)

	// (40-30) - (15-10) + (35-25) - (12-10) = 13 per unit → 13 × 65 = 845
	pnl, lines, err := s.LivePnL(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 845, pnl, 1e-9)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SELL 25200CE")
	assert.Contains(t, lines[0], "P&L:₹650")
}

func TestLivePnLFlat(t *testing.T) {
	mock := newMockBroker(24987)
	s := newTestStrategy(mock, true)

	pnl, lines, err := s.LivePnL(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pnl)
	assert.Empty(t, lines)
}

func TestLivePnLQuoteFailure(t *testing.T) {
	mock := newMockBroker(24987)
	seedEntryQuotes(mock)
	s := newTestStrategy(mock, true)

	_, err := s.EnterPosition(context.Background())
	require.NoError(t, err)

	mock.quoteErr[quoteKey(24800, models.RightPut)] = errors.New("quote unavailable")

	_, _, err = s.LivePnL(context.Background())
	assert.Error(t, err)
	assert.True(t, s.HasPosition(), "a failed refresh must not drop the position")
}
