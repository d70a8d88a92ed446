package storage

import (
	"sync"

	"github.com/ashwinkp/condorbot/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
type MockStorage struct {
	mu       sync.RWMutex
	trades   []models.Trade
	SaveErr  error
	AddCalls int
}

// Ensure MockStorage implements Interface.
var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// AddTrade records the trade in memory.
func (m *MockStorage) AddTrade(trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.trades = append(m.trades, trade)
	return nil
}

// GetTrades returns a copy of all recorded trades.
func (m *MockStorage) GetTrades() []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Trade(nil), m.trades...)
}

// GetTradesForDate filters recorded trades by date.
func (m *MockStorage) GetTradesForDate(date string) []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for _, trade := range m.trades {
		if trade.Date == date {
			out = append(out, trade)
		}
	}
	return out
}

// GetDailyPnL sums exit-trade P&L for the date.
func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pnl float64
	for _, trade := range m.trades {
		if trade.Kind == "exit" && trade.Date == date {
			pnl += trade.PnL
		}
	}
	return pnl
}

// GetStatistics computes aggregates over recorded exit trades.
func (m *MockStorage) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Statistics
	for _, trade := range m.trades {
		if trade.Kind != "exit" {
			continue
		}
		stats.TotalTrades++
		stats.TotalPnL += trade.PnL
		if trade.PnL > 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats
}

// Save is a no-op for the in-memory store.
func (m *MockStorage) Save() error { return m.SaveErr }

// Load is a no-op for the in-memory store.
func (m *MockStorage) Load() error { return nil }
