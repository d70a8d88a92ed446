package util

import (
	"math"
	"testing"
)

func TestRoundToStrike(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		step     float64
		expected float64
	}{
		{
			name:     "rounds up to nearest 50",
			price:    24987,
			step:     50,
			expected: 25000,
		},
		{
			name:     "rounds down to nearest 50",
			price:    24960,
			step:     50,
			expected: 24950,
		},
		{
			name:     "midpoint rounds away from zero",
			price:    24975,
			step:     50,
			expected: 25000,
		},
		{
			name:     "exact strike unchanged",
			price:    81200,
			step:     100,
			expected: 81200,
		},
		{
			name:     "sensex 100 point step",
			price:    81249,
			step:     100,
			expected: 81200,
		},
		{
			name:     "zero step returns input",
			price:    123.45,
			step:     0,
			expected: 123.45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToStrike(tt.price, tt.step)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("RoundToStrike(%v, %v) = %v, expected %v", tt.price, tt.step, result, tt.expected)
			}
		})
	}
}

func TestRoundToStrikeProperties(t *testing.T) {
	// For any price and positive step the result must sit on the strike grid
	// and be no further than half a step from the input.
	prices := []float64{18000.1, 19872.6, 24975, 25024.9, 80999.5, 81350}
	steps := []float64{50, 100}

	for _, step := range steps {
		for _, price := range prices {
			got := RoundToStrike(price, step)
			if rem := math.Mod(got, step); math.Abs(rem) > 1e-6 && math.Abs(rem-step) > 1e-6 {
				t.Errorf("RoundToStrike(%v, %v) = %v is not a multiple of step", price, step, got)
			}
			if diff := math.Abs(got - price); diff > step/2+1e-6 {
				t.Errorf("RoundToStrike(%v, %v) = %v is %.2f away, more than half a step", price, step, got, diff)
			}
		}
	}
}
