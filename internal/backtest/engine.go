package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/util"
)

// Kind selects the strategy being replayed.
type Kind string

const (
	// KindIronCondor sells an OTM call and put spread around the spot
	KindIronCondor Kind = "iron_condor"
	// KindShortStraddle sells the ATM call and put naked
	KindShortStraddle Kind = "short_straddle"
)

// Exit reasons recorded on each replayed trade.
const (
	ExitTarget   = "target"
	ExitStopLoss = "stoploss"
	ExitEOD      = "eod"
)

// Params holds the replayed strategy's sizing, strike selection, exit rules
// and per-trade cost model.
type Params struct {
	Lots       int
	LotQty     int
	StrikeStep float64

	// SellOffset/BuyOffset place the condor's short and long strikes away
	// from the ATM strike; the straddle ignores them.
	SellOffset float64
	BuyOffset  float64

	// TargetPct/StopLossPct exit the trade when the unrealized profit or
	// loss reaches that share of the collected net credit.
	TargetPct   float64
	StopLossPct float64

	SlippagePerLot    float64
	BrokeragePerOrder float64

	ExpiryWeekday time.Weekday
}

// DefaultParams mirrors the live NIFTY condor configuration with a flat
// discount-broker cost model.
func DefaultParams() Params {
	return Params{
		Lots:              1,
		LotQty:            65,
		StrikeStep:        50,
		SellOffset:        200,
		BuyOffset:         400,
		TargetPct:         0.5,
		StopLossPct:       1.0,
		SlippagePerLot:    2,
		BrokeragePerOrder: 20,
		ExpiryWeekday:     time.Thursday,
	}
}

// Quantity returns the order quantity per leg.
func (p Params) Quantity() int {
	return p.Lots * p.LotQty
}

// Leg is one simulated option leg with its exit premium alongside the entry.
type Leg struct {
	models.Leg
	ExitPremium float64
}

// RealizedPnL returns the leg's profit at its recorded exit premium.
func (l Leg) RealizedPnL(qty int) float64 {
	return l.Leg.PnL(l.ExitPremium, qty)
}

// LegRecord is one leg of a recorded trade.
type LegRecord struct {
	Strike float64 `json:"strike"`
	Right  string  `json:"right"`
	Action string  `json:"action"`
	Entry  float64 `json:"entry"`
	Exit   float64 `json:"exit"`
	PnL    float64 `json:"pnl"`
}

// TradeRecord is one replayed expiry-day trade.
type TradeRecord struct {
	ID         int         `json:"trade_id"`
	Strategy   string      `json:"strategy"`
	Date       string      `json:"date"`
	Spot       float64     `json:"spot"`
	Legs       []LegRecord `json:"legs"`
	GrossPnL   float64     `json:"gross_pnl"`
	Slippage   float64     `json:"slippage"`
	Brokerage  float64     `json:"brokerage"`
	NetPnL     float64     `json:"net_pnl"`
	ExitReason string      `json:"exit_reason"`
	Capital    float64     `json:"capital"`
	ReturnPct  float64     `json:"return_pct"`
}

// Backtester replays one strategy over every weekly expiry in its window,
// entering at the session open of the expiry day and managing the position
// minute by minute.
type Backtester struct {
	source DataSource
	kind   Kind
	params Params

	initialCapital float64
	capital        float64
	from, to       time.Time

	trades []TradeRecord
	equity []float64

	log *logrus.Entry
}

// New creates a backtester for one strategy over [from, to].
func New(source DataSource, kind Kind, params Params, capital float64, from, to time.Time) *Backtester {
	return &Backtester{
		source:         source,
		kind:           kind,
		params:         params,
		initialCapital: capital,
		capital:        capital,
		from:           from,
		to:             to,
		equity:         []float64{capital},
		log:            logrus.WithFields(logrus.Fields{"component": "backtest", "strategy": string(kind)}),
	}
}

// Trades returns the recorded trades in entry order.
func (b *Backtester) Trades() []TradeRecord {
	return b.trades
}

// EquityCurve returns the capital after each trade, starting at the initial
// capital.
func (b *Backtester) EquityCurve() []float64 {
	return b.equity
}

// Run replays every weekly expiry in the window and aggregates the result.
// Expiries with no usable data are skipped, not failed.
func (b *Backtester) Run(ctx context.Context) (*Result, error) {
	expiries := WeeklyExpiries(b.from, b.to, b.params.ExpiryWeekday)
	b.log.Infof("Replaying %d weekly expiries from %s to %s",
		len(expiries), b.from.Format("2006-01-02"), b.to.Format("2006-01-02"))

	skipped := 0
	for _, expiry := range expiries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.runExpiry(ctx, expiry); err != nil {
			skipped++
			b.log.WithError(err).Warnf("Skipping expiry %s", expiry.Format("2006-01-02"))
		}
	}
	if skipped > 0 {
		b.log.Warnf("Skipped %d of %d expiries", skipped, len(expiries))
	}
	return b.computeResult(), nil
}

func (b *Backtester) runExpiry(ctx context.Context, expiry time.Time) error {
	spot, err := b.source.SpotPrice(ctx, expiry)
	if err != nil {
		return err
	}

	legs := b.buildLegs(spot)
	allZero := true
	for i := range legs {
		premium, err := b.source.EntryPremium(ctx, spot, legs[i].Strike, legs[i].Right, expiry)
		if err != nil {
			return err
		}
		legs[i].EntryPremium = premium
		if premium > 0 {
			allZero = false
		}
	}
	if allZero {
		return fmt.Errorf("no premium data")
	}

	reason, err := b.simulate(ctx, spot, expiry, legs)
	if err != nil {
		return err
	}

	qty := b.params.Quantity()
	gross := 0.0
	records := make([]LegRecord, 0, len(legs))
	for _, leg := range legs {
		pnl := leg.RealizedPnL(qty)
		gross += pnl
		records = append(records, LegRecord{
			Strike: leg.Strike,
			Right:  leg.Right.Short(),
			Action: string(leg.Action),
			Entry:  leg.EntryPremium,
			Exit:   leg.ExitPremium,
			PnL:    round2(pnl),
		})
	}

	slippage := b.params.SlippagePerLot * float64(b.params.LotQty) * float64(len(legs))
	brokerage := b.params.BrokeragePerOrder * float64(len(legs)*2) // entry and exit per leg
	net := gross - slippage - brokerage

	b.capital += net
	b.equity = append(b.equity, b.capital)
	b.trades = append(b.trades, TradeRecord{
		ID:         len(b.trades) + 1,
		Strategy:   string(b.kind),
		Date:       expiry.Format("2006-01-02"),
		Spot:       spot,
		Legs:       records,
		GrossPnL:   round2(gross),
		Slippage:   round2(slippage),
		Brokerage:  round2(brokerage),
		NetPnL:     round2(net),
		ExitReason: reason,
		Capital:    round2(b.capital),
		ReturnPct:  round2(net / b.initialCapital * 100),
	})

	b.log.WithFields(logrus.Fields{
		"date":   expiry.Format("2006-01-02"),
		"spot":   spot,
		"pnl":    round2(net),
		"reason": reason,
	}).Info("Trade closed")
	return nil
}

// buildLegs selects the strikes around the ATM strike for the strategy.
func (b *Backtester) buildLegs(spot float64) []Leg {
	atm := util.RoundToStrike(spot, b.params.StrikeStep)
	if b.kind == KindShortStraddle {
		return []Leg{
			{Leg: models.Leg{Strike: atm, Right: models.RightCall, Action: models.ActionSell}},
			{Leg: models.Leg{Strike: atm, Right: models.RightPut, Action: models.ActionSell}},
		}
	}
	return []Leg{
		{Leg: models.Leg{Strike: atm + b.params.SellOffset, Right: models.RightCall, Action: models.ActionSell}},
		{Leg: models.Leg{Strike: atm + b.params.BuyOffset, Right: models.RightCall, Action: models.ActionBuy}},
		{Leg: models.Leg{Strike: atm - b.params.SellOffset, Right: models.RightPut, Action: models.ActionSell}},
		{Leg: models.Leg{Strike: atm - b.params.BuyOffset, Right: models.RightPut, Action: models.ActionBuy}},
	}
}

// simulate walks the legs' intraday premium paths minute by minute and fills
// each leg's exit premium at the first target or stop-loss hit, falling back
// to the end-of-session premiums.
func (b *Backtester) simulate(ctx context.Context, spot float64, expiry time.Time, legs []Leg) (string, error) {
	qty := float64(b.params.Quantity())

	netCredit := 0.0
	for _, leg := range legs {
		if leg.Action == models.ActionSell {
			netCredit += leg.EntryPremium * qty
		} else {
			netCredit -= leg.EntryPremium * qty
		}
	}

	paths := make([][]float64, len(legs))
	minutes := math.MaxInt
	for i, leg := range legs {
		path, err := b.source.PremiumPath(ctx, leg.EntryPremium, spot, leg.Strike, leg.Right, expiry)
		if err != nil {
			return "", err
		}
		if len(path) == 0 {
			path = []float64{leg.EntryPremium}
		}
		paths[i] = path
		if len(path) < minutes {
			minutes = len(path)
		}
	}

	exitAt := func(m int) {
		for i := range legs {
			legs[i].ExitPremium = paths[i][m]
		}
	}

	for m := 0; m < minutes; m++ {
		closeCost := 0.0
		for i, leg := range legs {
			if leg.Action == models.ActionSell {
				closeCost += paths[i][m] * qty
			} else {
				closeCost -= paths[i][m] * qty
			}
		}
		unrealized := netCredit - closeCost
		if unrealized >= netCredit*b.params.TargetPct {
			exitAt(m)
			return ExitTarget, nil
		}
		if unrealized <= -netCredit*b.params.StopLossPct {
			exitAt(m)
			return ExitStopLoss, nil
		}
	}

	for i := range legs {
		legs[i].ExitPremium = paths[i][len(paths[i])-1]
	}
	return ExitEOD, nil
}
