package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// History persists a run's trades and equity curve for offline analysis.
type History struct {
	dir      string
	strategy string
	stamp    string
	log      *logrus.Entry
}

// NewHistory creates a writer rooted at dir; files are named after the
// strategy and the run timestamp.
func NewHistory(dir, strategy string) *History {
	return &History{
		dir:      dir,
		strategy: strategy,
		stamp:    time.Now().Format("20060102_150405"),
		log:      logrus.WithField("component", "backtest"),
	}
}

// SaveTrades writes the trades as both CSV and JSON and returns the paths.
func (h *History) SaveTrades(trades []TradeRecord) (csvPath, jsonPath string, err error) {
	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return "", "", fmt.Errorf("creating history dir: %w", err)
	}

	csvPath = h.path("trades", "csv")
	if err := h.writeTradesCSV(csvPath, trades); err != nil {
		return "", "", err
	}

	jsonPath = h.path("trades", "json")
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding trades: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
		return "", "", fmt.Errorf("writing %s: %w", jsonPath, err)
	}

	h.log.Infof("Saved %d trades to %s", len(trades), h.dir)
	return csvPath, jsonPath, nil
}

// SaveEquityCurve writes the after-trade capital series as CSV.
func (h *History) SaveEquityCurve(equity []float64) (string, error) {
	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating history dir: %w", err)
	}

	path := h.path("equity", "csv")
	f, err := os.Create(path) // #nosec G304 -- path is built from the configured output dir
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"trade", "capital"}); err != nil {
		return "", fmt.Errorf("writing equity header: %w", err)
	}
	for i, v := range equity {
		if err := w.Write([]string{strconv.Itoa(i), formatAmount(v)}); err != nil {
			return "", fmt.Errorf("writing equity row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing %s: %w", path, err)
	}
	return path, nil
}

func (h *History) writeTradesCSV(path string, trades []TradeRecord) error {
	f, err := os.Create(path) // #nosec G304 -- path is built from the configured output dir
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	header := []string{
		"trade_id", "strategy", "date", "spot", "legs",
		"gross_pnl", "slippage", "brokerage", "net_pnl",
		"exit_reason", "capital", "return_pct",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing trades header: %w", err)
	}
	for _, trade := range trades {
		legs, err := json.Marshal(trade.Legs)
		if err != nil {
			return fmt.Errorf("encoding legs: %w", err)
		}
		row := []string{
			strconv.Itoa(trade.ID),
			trade.Strategy,
			trade.Date,
			formatAmount(trade.Spot),
			string(legs),
			formatAmount(trade.GrossPnL),
			formatAmount(trade.Slippage),
			formatAmount(trade.Brokerage),
			formatAmount(trade.NetPnL),
			trade.ExitReason,
			formatAmount(trade.Capital),
			formatAmount(trade.ReturnPct),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing trade row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}

func (h *History) path(kind, ext string) string {
	return filepath.Join(h.dir, fmt.Sprintf("%s_%s_%s.%s", kind, h.strategy, h.stamp, ext))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
