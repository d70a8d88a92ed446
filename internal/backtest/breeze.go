package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/models"
)

// spotLookback is how many calendar days SpotPrice walks back to skip
// holidays before giving up on a date.
const spotLookback = 4

// BreezeSource serves backtest data from the gateway's historical-charts
// endpoint.
type BreezeSource struct {
	client *broker.BreezeClient
	inst   broker.Instrument
	log    *logrus.Entry
}

// NewBreezeSource creates a gateway-backed data source for one index.
func NewBreezeSource(client *broker.BreezeClient, inst broker.Instrument) *BreezeSource {
	return &BreezeSource{
		client: client,
		inst:   inst,
		log:    logrus.WithFields(logrus.Fields{"component": "backtest", "index": inst.StockCode}),
	}
}

// SpotPrice returns the cash-segment close for the date, walking back up to
// four days when the date is a holiday.
func (s *BreezeSource) SpotPrice(ctx context.Context, date time.Time) (float64, error) {
	for back := 0; back < spotLookback; back++ {
		day := date.AddDate(0, 0, -back)
		candles, err := s.client.GetHistoricalCandles(ctx, broker.HistoricalRequest{
			Interval:     "1day",
			FromDate:     day,
			ToDate:       day,
			StockCode:    s.inst.StockCode,
			ExchangeCode: s.inst.CashExchange,
		})
		if err != nil {
			s.log.WithError(err).Debugf("No spot candle for %s", day.Format("2006-01-02"))
			continue
		}
		if len(candles) > 0 && candles[len(candles)-1].Close > 0 {
			return candles[len(candles)-1].Close, nil
		}
	}
	return 0, fmt.Errorf("no spot data within %d days of %s", spotLookback, date.Format("2006-01-02"))
}

// EntryPremium returns the contract's first traded price on the expiry day,
// or zero when the gateway has no candles for it.
func (s *BreezeSource) EntryPremium(ctx context.Context, _, strike float64, right models.Right, expiry time.Time) (float64, error) {
	candles, err := s.optionCandles(ctx, strike, right, expiry)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	return candles[0].Open, nil
}

// PremiumPath returns the contract's minute closes for the expiry session.
// When the gateway has no candles the path degenerates to the entry premium,
// which makes the trade exit flat at end of day.
func (s *BreezeSource) PremiumPath(ctx context.Context, entry, _, strike float64, right models.Right, expiry time.Time) ([]float64, error) {
	candles, err := s.optionCandles(ctx, strike, right, expiry)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return []float64{entry}, nil
	}
	path := make([]float64, 0, len(candles)+1)
	path = append(path, entry)
	for _, c := range candles {
		path = append(path, c.Close)
	}
	return path, nil
}

func (s *BreezeSource) optionCandles(ctx context.Context, strike float64, right models.Right, expiry time.Time) ([]broker.Candle, error) {
	return s.client.GetHistoricalCandles(ctx, broker.HistoricalRequest{
		Interval:     "1minute",
		FromDate:     expiry,
		ToDate:       expiry,
		StockCode:    s.inst.StockCode,
		ExchangeCode: s.inst.Exchange,
		ProductType:  "options",
		Expiry:       expiry,
		Right:        right,
		Strike:       strike,
	})
}
