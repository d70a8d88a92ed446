// Package storage persists the trade history to a JSON file.
package storage

import (
	"github.com/ashwinkp/condorbot/internal/models"
)

// Interface defines the contract for trade-history persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. The provided JSONStorage implementation uses
// sync.RWMutex to serialize access.
type Interface interface {
	// AddTrade records a trade and persists immediately.
	AddTrade(trade models.Trade) error

	// GetTrades returns the full history, newest last.
	GetTrades() []models.Trade
	// GetTradesForDate returns the trades recorded on a YYYY-MM-DD date.
	GetTradesForDate(date string) []models.Trade

	// GetDailyPnL returns the realized P&L booked on a YYYY-MM-DD date.
	GetDailyPnL(date string) float64
	// GetStatistics returns win/loss aggregates over exit trades.
	GetStatistics() Statistics

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface.
var _ Interface = (*JSONStorage)(nil)
