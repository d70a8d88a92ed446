package backtest

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

// SimulatedSource generates a deterministic random walk for the index and a
// distance-decayed premium model for its options. It stands in for the
// gateway when no credentials are available, so a run is reproducible from
// the seed alone.
type SimulatedSource struct {
	rng      *rand.Rand
	spots    map[string]float64
	lastSpot float64
}

// NewSimulatedSource creates a simulated source seeded for reproducibility.
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{
		rng:   rand.New(rand.NewSource(seed)), // #nosec G404 -- simulation, not crypto
		spots: make(map[string]float64),
	}
}

// SpotPrice walks the index level forward one step per distinct date.
func (s *SimulatedSource) SpotPrice(_ context.Context, date time.Time) (float64, error) {
	key := date.Format("2006-01-02")
	if spot, ok := s.spots[key]; ok {
		return spot, nil
	}
	var spot float64
	if s.lastSpot == 0 {
		spot = 22000 + s.rng.NormFloat64()*500
	} else {
		spot = s.lastSpot + s.rng.NormFloat64()*80
	}
	spot = round2(spot)
	s.spots[key] = spot
	s.lastSpot = spot
	return spot, nil
}

// EntryPremium prices the contract as intrinsic value plus a time value that
// decays with the strike's distance from spot. Expiry-day pricing uses a
// half-day floor on time to expiry.
func (s *SimulatedSource) EntryPremium(_ context.Context, spot, strike float64, right models.Right, _ time.Time) (float64, error) {
	var intrinsic float64
	if right == models.RightCall {
		intrinsic = math.Max(0, spot-strike)
	} else {
		intrinsic = math.Max(0, strike-spot)
	}

	distance := math.Abs(spot - strike)
	iv := 0.13 + (s.rng.Float64()*0.04 - 0.02)
	timeValue := spot * iv * math.Sqrt(0.5/365) * math.Exp(-distance/(spot*0.1))

	return round2(math.Max(intrinsic+timeValue, 1.0)), nil
}

// PremiumPath walks the premium through the session in small percentage
// steps, floored at 0.50 so a deep-OTM leg never quotes zero.
func (s *SimulatedSource) PremiumPath(_ context.Context, entry, _, _ float64, _ models.Right, _ time.Time) ([]float64, error) {
	path := make([]float64, 0, sessionMinutes+1)
	path = append(path, entry)
	current := entry
	for i := 0; i < sessionMinutes; i++ {
		current = math.Max(0.5, current*(1+s.rng.NormFloat64()*0.003))
		path = append(path, round2(current))
	}
	return path, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
