// Package models provides data structures and state management for condor positions.
package models

import (
	"fmt"
	"time"
)

// Right represents the option right of a contract.
type Right string

const (
	// RightCall represents a call option contract
	RightCall Right = "call"
	// RightPut represents a put option contract
	RightPut Right = "put"
)

// Short returns the exchange-style suffix for the right ("CE" or "PE").
func (r Right) Short() string {
	if r == RightCall {
		return "CE"
	}
	return "PE"
}

// Action represents the order side of a leg.
type Action string

const (
	// ActionBuy opens or closes a long leg
	ActionBuy Action = "buy"
	// ActionSell opens or closes a short leg
	ActionSell Action = "sell"
)

// Inverse returns the closing action for a leg opened with this action.
func (a Action) Inverse() Action {
	if a == ActionSell {
		return ActionBuy
	}
	return ActionSell
}

// LegCount is the number of legs in a complete iron condor.
const LegCount = 4

// Leg is one option contract position within a condor.
type Leg struct {
	Strike       float64 `json:"strike"`
	Right        Right   `json:"right"`
	Action       Action  `json:"action"`
	EntryPremium float64 `json:"entry_premium"`
}

// PnL returns the profit for this leg at the given current premium and quantity.
// Short legs profit when the premium decays, long legs when it rises.
func (l Leg) PnL(current float64, qty int) float64 {
	if l.Action == ActionSell {
		return (l.EntryPremium - current) * float64(qty)
	}
	return (current - l.EntryPremium) * float64(qty)
}

// String renders the leg in the dashboard/alert format, e.g. "SELL 25200CE @₹42.50".
func (l Leg) String() string {
	side := "SELL"
	if l.Action == ActionBuy {
		side = "BUY "
	}
	return fmt.Sprintf("%s %.0f%s @₹%.2f", side, l.Strike, l.Right.Short(), l.EntryPremium)
}

// CondorPosition holds the four legs of one iron condor for a single index.
// The position is either flat (no legs) or fully populated (all four legs);
// partial leg sets are rejected so a half-placed entry can never masquerade
// as an open position.
type CondorPosition struct {
	Legs             []Leg     `json:"legs"`
	Expiry           string    `json:"expiry"`
	Quantity         int       `json:"quantity"`
	SpotAtEntry      float64   `json:"spot_at_entry"`
	NetPremium       float64   `json:"net_premium"`       // per unit
	PremiumCollected float64   `json:"premium_collected"` // scaled by quantity
	EntryTime        time.Time `json:"entry_time"`
}

// IsOpen reports whether the condor has open legs.
func (p *CondorPosition) IsOpen() bool {
	return len(p.Legs) > 0
}

// Open populates the position as a unit. It returns an error unless exactly
// four legs are supplied or the position is already open.
func (p *CondorPosition) Open(legs []Leg, expiry string, qty int, spot, netPremium float64) error {
	if p.IsOpen() {
		return fmt.Errorf("condor position already open with %d legs", len(p.Legs))
	}
	if len(legs) != LegCount {
		return fmt.Errorf("condor position requires exactly %d legs, got %d", LegCount, len(legs))
	}
	p.Legs = append([]Leg(nil), legs...)
	p.Expiry = expiry
	p.Quantity = qty
	p.SpotAtEntry = spot
	p.NetPremium = netPremium
	p.PremiumCollected = netPremium * float64(qty)
	p.EntryTime = time.Now().UTC()
	return nil
}

// Clear resets the position to flat.
func (p *CondorPosition) Clear() {
	*p = CondorPosition{}
}

// Describe returns one human-readable line per leg.
func (p *CondorPosition) Describe() []string {
	lines := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		lines = append(lines, leg.String())
	}
	return lines
}

// Trade is one entry or exit recorded in the day's trade log.
type Trade struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Index     string    `json:"index"`
	Kind      string    `json:"kind"` // "entry" or "exit"
	Legs      []string  `json:"legs,omitempty"`
	Premium   float64   `json:"premium"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
