package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

// histDateFormat is the ISO timestamp format the historical-charts endpoint
// expects, e.g. 2026-02-09T07:00:00.000Z.
const histDateFormat = "2006-01-02T15:04:05.000Z"

// HistoricalRequest describes one historical-charts query. Leave ProductType,
// Expiry, Right and Strike zero for a cash-segment query.
type HistoricalRequest struct {
	Interval     string // "1minute" or "1day"
	FromDate     time.Time
	ToDate       time.Time
	StockCode    string
	ExchangeCode string
	ProductType  string
	Expiry       time.Time
	Right        models.Right
	Strike       float64
}

// Candle is one OHLC bar returned by the historical-charts endpoint.
type Candle struct {
	Datetime string
	Open     float64
	High     float64
	Low      float64
	Close    float64
}

type candleRecord struct {
	Datetime string      `json:"datetime"`
	Open     json.Number `json:"open"`
	High     json.Number `json:"high"`
	Low      json.Number `json:"low"`
	Close    json.Number `json:"close"`
}

// GetHistoricalCandles fetches OHLC bars for an index or an option contract.
// From/to dates are widened to the session open and close so a single-day
// query covers the whole trading day.
func (b *BreezeClient) GetHistoricalCandles(ctx context.Context, req HistoricalRequest) ([]Candle, error) {
	if !b.connected.Load() {
		return nil, ErrNotConnected
	}

	payload := map[string]string{
		"interval":      req.Interval,
		"from_date":     histTimestamp(req.FromDate, 7),
		"to_date":       histTimestamp(req.ToDate, 16),
		"stock_code":    req.StockCode,
		"exchange_code": req.ExchangeCode,
	}
	if req.ProductType != "" {
		payload["product_type"] = req.ProductType
	}
	if !req.Expiry.IsZero() {
		payload["expiry_date"] = histTimestamp(req.Expiry, 7)
	}
	if req.Right != "" {
		payload["right"] = string(req.Right)
	}
	if req.Strike > 0 {
		payload["strike_price"] = formatStrike(req.Strike)
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/historicalcharts", payload)
	if err != nil {
		return nil, fmt.Errorf("fetching %s candles for %s: %w", req.Interval, req.StockCode, err)
	}

	records, err := decodeRecords[candleRecord](raw)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(records))
	for _, rec := range records {
		c := Candle{Datetime: rec.Datetime}
		for _, f := range []struct {
			dst *float64
			src json.Number
		}{
			{&c.Open, rec.Open},
			{&c.High, rec.High},
			{&c.Low, rec.Low},
			{&c.Close, rec.Close},
		} {
			if f.src == "" {
				continue
			}
			v, err := f.src.Float64()
			if err != nil {
				return nil, fmt.Errorf("parsing candle value %q: %w", f.src, err)
			}
			*f.dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func histTimestamp(t time.Time, hour int) string {
	day := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
	return day.Format(histDateFormat)
}
