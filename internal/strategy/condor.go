// Package strategy implements the four-leg iron condor entry, exit, and
// live P&L logic for one index.
//
// Structure:
//
//	Sell CE at (spot + ce_sell_offset)
//	Buy  CE at (spot + ce_buy_offset)   <- protection
//	Sell PE at (spot - pe_sell_offset)
//	Buy  PE at (spot - pe_buy_offset)   <- protection
//
// Max profit is the net premium collected; max loss is the spread width
// minus the net premium.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/config"
	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/retry"
	"github.com/ashwinkp/condorbot/internal/util"
)

// defaultLegPause is the wait between consecutive leg orders so the gateway
// is not hit with four orders in the same instant.
const defaultLegPause = time.Second

// CondorStrategy owns one condor position on one index. All methods are
// goroutine-safe; the scheduler and the emergency-exit handlers may call
// concurrently.
type CondorStrategy struct {
	broker          broker.Broker
	index           *config.IndexConfig
	loc             *time.Location
	retryCfg        retry.Config
	legPause        time.Duration
	rollbackPartial bool
	log             *logrus.Entry

	mu       sync.Mutex
	position models.CondorPosition
}

// Option configures a CondorStrategy.
type Option func(*CondorStrategy)

// WithLegPause overrides the wait between leg orders.
func WithLegPause(d time.Duration) Option {
	return func(s *CondorStrategy) { s.legPause = d }
}

// WithRetryConfig overrides the retry policy for gateway calls.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *CondorStrategy) { s.retryCfg = cfg }
}

// NewCondorStrategy creates a strategy for one index. rollbackPartial selects
// the partial-entry policy: unwind placed legs on a failed entry when true,
// keep them flagged for manual intervention when false.
func NewCondorStrategy(b broker.Broker, index *config.IndexConfig, loc *time.Location,
	rollbackPartial bool, opts ...Option) *CondorStrategy {
	s := &CondorStrategy{
		broker:          b,
		index:           index,
		loc:             loc,
		retryCfg:        retry.DefaultConfig,
		legPause:        defaultLegPause,
		rollbackPartial: rollbackPartial,
		log:             logrus.WithFields(logrus.Fields{"component": "strategy", "index": index.Name}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntryResult reports the outcome of an entry attempt.
type EntryResult struct {
	Aborted     bool // premium check failed, no orders placed
	AbortReason string
	Partial     bool // some legs failed and were kept for manual handling
	FailedLegs  int
	Legs        []string
	SpotPrice   float64
	NetPremium  float64 // per unit
	Total       float64 // scaled by quantity
	Expiry      string
	Quantity    int
}

// ExitResult reports the outcome of an exit.
type ExitResult struct {
	Flat        bool // no position was open, nothing done
	RealizedPnL float64
	FailedLegs  int
	Legs        []string
}

// legOrder is one planned leg of the condor.
type legOrder struct {
	strike float64
	right  models.Right
	action models.Action
}

// HasPosition reports whether a condor is currently open.
func (s *CondorStrategy) HasPosition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position.IsOpen()
}

// Position returns a copy of the current position.
func (s *CondorStrategy) Position() models.CondorPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.position
	pos.Legs = append([]models.Leg(nil), s.position.Legs...)
	return pos
}

// Index returns the index configuration this strategy trades.
func (s *CondorStrategy) Index() *config.IndexConfig {
	return s.index
}

// EnterPosition opens the four-leg condor. The sell premiums are checked
// against the minimum before any order goes out; a failed check aborts the
// entry with no orders placed.
func (s *CondorStrategy) EnterPosition(ctx context.Context) (*EntryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.position.IsOpen() {
		return nil, fmt.Errorf("%s: condor already open", s.index.Name)
	}

	// One parameter snapshot for the whole entry; dashboard updates landing
	// mid-entry apply from the next attempt.
	params := s.index.Params()
	inst := s.instrument()
	spot, err := retry.Do(ctx, s.retryCfg, s.log, "spot quote",
		func(ctx context.Context) (float64, error) { return s.broker.GetSpotPrice(ctx, inst) })
	if err != nil {
		return nil, err
	}
	s.log.Infof("%s spot: %.2f", s.index.Name, spot)

	expiry := broker.FormatExpiry(broker.NearestExpiry(time.Now().In(s.loc), s.index.ExpiryWeekday()))
	qty := params.Quantity()
	s.log.Infof("Expiry: %s | Lots: %d | Qty: %d", expiry, params.LotSize, qty)

	step := s.index.StrikeStep
	ceSellStrike := util.RoundToStrike(spot+params.CESellOffset, step)
	ceBuyStrike := util.RoundToStrike(spot+params.CEBuyOffset, step)
	peSellStrike := util.RoundToStrike(spot-params.PESellOffset, step)
	peBuyStrike := util.RoundToStrike(spot-params.PEBuyOffset, step)
	s.log.Infof("CE sell: %.0f | CE buy: %.0f | PE sell: %.0f | PE buy: %.0f",
		ceSellStrike, ceBuyStrike, peSellStrike, peBuyStrike)

	// Premium check before any order goes out
	ceSellPremium, err := s.ltp(ctx, inst, ceSellStrike, models.RightCall, expiry)
	if err != nil {
		return nil, err
	}
	peSellPremium, err := s.ltp(ctx, inst, peSellStrike, models.RightPut, expiry)
	if err != nil {
		return nil, err
	}
	s.log.Infof("CE sell premium: ₹%.2f | PE sell premium: ₹%.2f", ceSellPremium, peSellPremium)

	if ceSellPremium < params.MinPremium {
		return &EntryResult{
			Aborted:     true,
			AbortReason: fmt.Sprintf("CE premium ₹%.2f below min ₹%.2f", ceSellPremium, params.MinPremium),
		}, nil
	}
	if peSellPremium < params.MinPremium {
		return &EntryResult{
			Aborted:     true,
			AbortReason: fmt.Sprintf("PE premium ₹%.2f below min ₹%.2f", peSellPremium, params.MinPremium),
		}, nil
	}

	plan := []legOrder{
		{ceSellStrike, models.RightCall, models.ActionSell},
		{ceBuyStrike, models.RightCall, models.ActionBuy},
		{peSellStrike, models.RightPut, models.ActionSell},
		{peBuyStrike, models.RightPut, models.ActionBuy},
	}

	var placed []legOrder
	failures := 0
	for i, leg := range plan {
		s.log.Infof("Placing leg %d: %s %.0f %s", i+1, leg.action, leg.strike, leg.right.Short())
		if _, err := s.place(ctx, inst, leg, qty, expiry); err != nil {
			s.log.Errorf("Leg %d failed: %v", i+1, err)
			failures++
		} else {
			placed = append(placed, leg)
		}
		s.pause(ctx)
	}

	if failures > 0 && s.rollbackPartial {
		s.unwind(ctx, inst, placed, qty, expiry)
		return nil, fmt.Errorf("%s: %d of %d entry legs failed, placed legs rolled back",
			s.index.Name, failures, models.LegCount)
	}

	// Buy premiums for the net calculation; a failed quote books the leg at
	// zero rather than losing track of an already-placed position.
	ceBuyPremium, err := s.ltp(ctx, inst, ceBuyStrike, models.RightCall, expiry)
	if err != nil {
		s.log.Warnf("CE buy premium unavailable, booking at 0: %v", err)
	}
	peBuyPremium, err := s.ltp(ctx, inst, peBuyStrike, models.RightPut, expiry)
	if err != nil {
		s.log.Warnf("PE buy premium unavailable, booking at 0: %v", err)
	}

	netPremium := ceSellPremium + peSellPremium - ceBuyPremium - peBuyPremium
	legs := []models.Leg{
		{Strike: ceSellStrike, Right: models.RightCall, Action: models.ActionSell, EntryPremium: ceSellPremium},
		{Strike: ceBuyStrike, Right: models.RightCall, Action: models.ActionBuy, EntryPremium: ceBuyPremium},
		{Strike: peSellStrike, Right: models.RightPut, Action: models.ActionSell, EntryPremium: peSellPremium},
		{Strike: peBuyStrike, Right: models.RightPut, Action: models.ActionBuy, EntryPremium: peBuyPremium},
	}
	if err := s.position.Open(legs, expiry, qty, spot, netPremium); err != nil {
		return nil, err
	}

	if failures > 0 {
		s.log.Warnf("%d leg(s) failed, manual check needed", failures)
	}

	return &EntryResult{
		Partial:    failures > 0,
		FailedLegs: failures,
		Legs:       s.position.Describe(),
		SpotPrice:  spot,
		NetPremium: netPremium,
		Total:      s.position.PremiumCollected,
		Expiry:     expiry,
		Quantity:   qty,
	}, nil
}

// ExitPosition closes every leg with the inverse order. The position is
// cleared even when a closing order fails; the realized P&L is the premium
// collected minus the cost of closing. Calling on a flat position is a no-op.
func (s *CondorStrategy) ExitPosition(ctx context.Context, reason string) (*ExitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.position.IsOpen() {
		return &ExitResult{Flat: true}, nil
	}

	inst := s.instrument()
	qty := s.position.Quantity
	expiry := s.position.Expiry
	s.log.Infof("Exiting condor (%s)", reason)

	result := &ExitResult{}
	var exitCost float64
	for _, leg := range s.position.Legs {
		exitAction := leg.Action.Inverse()

		current, err := s.ltp(ctx, inst, leg.Strike, leg.Right, expiry)
		if err != nil {
			s.log.Warnf("Exit quote unavailable for %.0f%s, booking at 0: %v", leg.Strike, leg.Right.Short(), err)
		}
		s.log.Infof("Exiting: %s %.0f%s @₹%.2f", exitAction, leg.Strike, leg.Right.Short(), current)

		if _, err := s.place(ctx, inst, legOrder{leg.Strike, leg.Right, exitAction}, qty, expiry); err != nil {
			s.log.Errorf("Exit leg failed: %v", err)
			result.FailedLegs++
		}
		s.pause(ctx)

		if leg.Action == models.ActionSell {
			// sold at entry, buying back now
			exitCost += current * float64(qty)
		} else {
			// bought at entry, selling now
			exitCost -= current * float64(qty)
		}
		result.Legs = append(result.Legs, fmt.Sprintf("%s %.0f%s @₹%.2f", exitAction, leg.Strike, leg.Right.Short(), current))
	}

	result.RealizedPnL = s.position.PremiumCollected - exitCost
	s.position.Clear()

	return result, nil
}

// LivePnL returns the mark-to-market P&L of the open position and one
// formatted line per leg. A flat position reports zero.
func (s *CondorStrategy) LivePnL(ctx context.Context) (float64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.position.IsOpen() {
		return 0, nil, nil
	}

	inst := s.instrument()
	qty := s.position.Quantity
	expiry := s.position.Expiry

	var total float64
	lines := make([]string, 0, len(s.position.Legs))
	for _, leg := range s.position.Legs {
		current, err := s.ltp(ctx, inst, leg.Strike, leg.Right, expiry)
		if err != nil {
			return 0, nil, fmt.Errorf("live P&L for %.0f%s: %w", leg.Strike, leg.Right.Short(), err)
		}

		legPnL := leg.PnL(current, qty)
		total += legPnL

		side := "SELL"
		if leg.Action == models.ActionBuy {
			side = "BUY "
		}
		lines = append(lines, fmt.Sprintf("%s %.0f%s Entry:₹%.1f LTP:₹%.1f P&L:₹%.0f",
			side, leg.Strike, leg.Right.Short(), leg.EntryPremium, current, legPnL))
	}

	return total, lines, nil
}

// unwind reverses already-placed legs after a failed entry.
func (s *CondorStrategy) unwind(ctx context.Context, inst broker.Instrument, placed []legOrder, qty int, expiry string) {
	for _, leg := range placed {
		rollback := legOrder{leg.strike, leg.right, leg.action.Inverse()}
		s.log.Warnf("Rolling back: %s %.0f %s", rollback.action, rollback.strike, rollback.right.Short())
		if _, err := s.place(ctx, inst, rollback, qty, expiry); err != nil {
			s.log.Errorf("Rollback leg failed, manual intervention required: %v", err)
		}
		s.pause(ctx)
	}
}

func (s *CondorStrategy) instrument() broker.Instrument {
	return broker.Instrument{
		StockCode:    s.index.StockCode,
		CashCode:     s.index.CashCode,
		Exchange:     s.index.Exchange,
		CashExchange: s.index.CashExchange,
	}
}

func (s *CondorStrategy) ltp(ctx context.Context, inst broker.Instrument, strike float64,
	right models.Right, expiry string) (float64, error) {
	return retry.Do(ctx, s.retryCfg, s.log, "option quote",
		func(ctx context.Context) (float64, error) {
			return s.broker.GetOptionLTP(ctx, inst, strike, right, expiry)
		})
}

func (s *CondorStrategy) place(ctx context.Context, inst broker.Instrument, leg legOrder,
	qty int, expiry string) (*broker.OrderResult, error) {
	return retry.Do(ctx, s.retryCfg, s.log, "order",
		func(ctx context.Context) (*broker.OrderResult, error) {
			return s.broker.PlaceOrder(ctx, inst, leg.strike, leg.right, leg.action, qty, expiry)
		})
}

// pause waits between consecutive orders, returning early on cancellation.
func (s *CondorStrategy) pause(ctx context.Context) {
	if s.legPause <= 0 {
		return
	}
	select {
	case <-time.After(s.legPause):
	case <-ctx.Done():
	}
}
