// Package util provides common helpers for strike and price arithmetic.
package util

import "math"

// RoundToStrike rounds price to the nearest valid strike for the given step.
// For example, with step=50, 24987 becomes 25000 and 24960 becomes 24950.
func RoundToStrike(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}
