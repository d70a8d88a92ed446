package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

// JSONStorage persists trade history to a single JSON file with atomic
// temp-file writes.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	Trades      []models.Trade     `json:"trades"`
	DailyPnL    map[string]float64 `json:"daily_pnl"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Statistics aggregates realized results over exit trades.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
}

// NewJSONStorage creates storage backed by the given file, loading any
// existing history.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storageData{
			DailyPnL: make(map[string]float64),
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the history file from disk.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, s.data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.filepath, err)
	}
	if s.data.DailyPnL == nil {
		s.data.DailyPnL = make(map[string]float64)
	}
	return nil
}

// Save writes the history to disk via a temp file and atomic rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// AddTrade appends a trade, books its realized P&L against the trade date for
// exits, and persists immediately.
func (s *JSONStorage) AddTrade(trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Trades = append(s.data.Trades, trade)
	if trade.Kind == "exit" {
		s.data.DailyPnL[trade.Date] += trade.PnL
	}
	return s.saveLocked()
}

// GetTrades returns a copy of the full trade history.
func (s *JSONStorage) GetTrades() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Trade(nil), s.data.Trades...)
}

// GetTradesForDate returns the trades recorded on the given date.
func (s *JSONStorage) GetTradesForDate(date string) []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []models.Trade
	for _, trade := range s.data.Trades {
		if trade.Date == date {
			trades = append(trades, trade)
		}
	}
	return trades
}

// GetDailyPnL returns the realized P&L booked on the given date.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// GetStatistics computes win/loss aggregates over exit trades.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Statistics
	for _, trade := range s.data.Trades {
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
