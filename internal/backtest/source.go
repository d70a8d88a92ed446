// Package backtest replays the short-premium strategies over historical or
// simulated option data and reports their performance.
package backtest

import (
	"context"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

// sessionMinutes is the number of one-minute bars in an NSE/BSE session
// (09:15 to 15:30).
const sessionMinutes = 375

// DataSource supplies the prices one replayed expiry needs: the index level,
// each leg's opening premium, and each leg's intraday premium path.
type DataSource interface {
	// SpotPrice returns the index close for the given date.
	SpotPrice(ctx context.Context, date time.Time) (float64, error)

	// EntryPremium returns the option premium at the session open of the
	// expiry day. A zero premium means no data for the contract.
	EntryPremium(ctx context.Context, spot, strike float64, right models.Right, expiry time.Time) (float64, error)

	// PremiumPath returns the minute-by-minute premium for the expiry
	// session, starting at the entry premium.
	PremiumPath(ctx context.Context, entry, spot, strike float64, right models.Right, expiry time.Time) ([]float64, error)
}

// WeeklyExpiries lists every weekly expiry date on the given weekday inside
// [from, to].
func WeeklyExpiries(from, to time.Time, weekday time.Weekday) []time.Time {
	daysAhead := (int(weekday) - int(from.Weekday()) + 7) % 7
	var out []time.Time
	for d := from.AddDate(0, 0, daysAhead); !d.After(to); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}
