package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

func TestGetHistoricalCandlesOption(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if r.URL.Path != "/historicalcharts" {
			t.Errorf("path = %q, expected /historicalcharts", r.URL.Path)
		}
		if payload["interval"] != "1minute" {
			t.Errorf("interval = %q, expected 1minute", payload["interval"])
		}
		if payload["from_date"] != "2026-02-12T07:00:00.000Z" {
			t.Errorf("from_date = %q", payload["from_date"])
		}
		if payload["to_date"] != "2026-02-12T16:00:00.000Z" {
			t.Errorf("to_date = %q", payload["to_date"])
		}
		if payload["expiry_date"] != "2026-02-12T07:00:00.000Z" {
			t.Errorf("expiry_date = %q", payload["expiry_date"])
		}
		if payload["strike_price"] != "25200" || payload["right"] != "call" {
			t.Errorf("contract = %q/%q", payload["strike_price"], payload["right"])
		}
		writeEnvelope(t, w, []map[string]any{
			{"datetime": "2026-02-12 09:15:00", "open": 42.5, "high": 43, "low": 41, "close": "42.1"},
			{"datetime": "2026-02-12 09:16:00", "open": 42.1, "high": 42.4, "low": 40.9, "close": 41.3},
		})
	}))

	day := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	candles, err := client.GetHistoricalCandles(context.Background(), HistoricalRequest{
		Interval:     "1minute",
		FromDate:     day,
		ToDate:       day,
		StockCode:    "NIFTY",
		ExchangeCode: "NFO",
		ProductType:  "options",
		Expiry:       day,
		Right:        models.RightCall,
		Strike:       25200,
	})
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Open != 42.5 || candles[0].Close != 42.1 {
		t.Errorf("unexpected first candle: %+v", candles[0])
	}
	if candles[1].Close != 41.3 {
		t.Errorf("close = %v, expected 41.3", candles[1].Close)
	}
}

func TestGetHistoricalCandlesCashOmitsContractFields(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		for _, key := range []string{"product_type", "expiry_date", "right", "strike_price"} {
			if _, ok := payload[key]; ok {
				t.Errorf("cash query must not send %q", key)
			}
		}
		writeEnvelope(t, w, []map[string]any{
			{"datetime": "2026-02-12", "open": 24950, "high": 25010, "low": 24900, "close": 24987.35},
		})
	}))

	day := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	candles, err := client.GetHistoricalCandles(context.Background(), HistoricalRequest{
		Interval:     "1day",
		FromDate:     day,
		ToDate:       day,
		StockCode:    "NIFTY",
		ExchangeCode: "NSE",
	})
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if len(candles) != 1 || candles[0].Close != 24987.35 {
		t.Errorf("unexpected candles: %+v", candles)
	}
}

func TestGetHistoricalCandlesNotConnected(t *testing.T) {
	client := NewBreezeClient("key", "secret", "token", "http://localhost:1")
	_, err := client.GetHistoricalCandles(context.Background(), HistoricalRequest{Interval: "1day"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
