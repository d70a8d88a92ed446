package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashwinkp/condorbot/internal/models"
)

var niftyInst = Instrument{
	StockCode:    "NIFTY",
	CashCode:     "NIFTY 50",
	Exchange:     "NFO",
	CashExchange: "NSE",
}

// newTestClient returns a connected client pointed at the test server.
func newTestClient(t *testing.T, handler http.Handler) *BreezeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewBreezeClient("key", "secret", "token", server.URL)
	client.connected.Store(true)
	return client
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, success any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{
		"Success": success,
		"Status":  200,
		"Error":   nil,
	}); err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
}

func TestConnectSuccess(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("X-AppKey") != "key" {
			t.Errorf("X-AppKey = %q, expected key", r.Header.Get("X-AppKey"))
		}
		if r.Header.Get("X-Checksum") == "" {
			t.Error("expected X-Checksum header")
		}
		writeEnvelope(t, w, map[string]string{"idirect_userid": "u1"})
	}))
	client.connected.Store(false)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if gotPath != "/customerdetails" {
		t.Errorf("path = %q, expected /customerdetails", gotPath)
	}
	if !client.connected.Load() {
		t.Error("expected connected flag set")
	}
}

func TestConnectMissingCredentials(t *testing.T) {
	client := NewBreezeClient("", "", "", "http://localhost:1")
	if err := client.Connect(context.Background()); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestGetSpotPriceWithCashFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		// Derivative code returns a zero LTP, cash alias has the quote
		if payload["stock_code"] == "NIFTY" {
			writeEnvelope(t, w, []map[string]any{{"ltp": 0}})
			return
		}
		if payload["stock_code"] != "NIFTY 50" {
			t.Errorf("unexpected stock_code %q", payload["stock_code"])
		}
		writeEnvelope(t, w, []map[string]any{{"ltp": 24987.35}})
	}))

	spot, err := client.GetSpotPrice(context.Background(), niftyInst)
	if err != nil {
		t.Fatalf("GetSpotPrice() error = %v", err)
	}
	if spot != 24987.35 {
		t.Errorf("spot = %v, expected 24987.35", spot)
	}
}

func TestGetSpotPriceNotConnected(t *testing.T) {
	client := NewBreezeClient("key", "secret", "token", "http://localhost:1")
	if _, err := client.GetSpotPrice(context.Background(), niftyInst); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestGetOptionLTP(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if payload["strike_price"] != "25200" {
			t.Errorf("strike_price = %q, expected 25200", payload["strike_price"])
		}
		if payload["right"] != "call" {
			t.Errorf("right = %q, expected call", payload["right"])
		}
		if payload["product_type"] != "options" {
			t.Errorf("product_type = %q, expected options", payload["product_type"])
		}
		writeEnvelope(t, w, []map[string]any{{"ltp": "42.5"}})
	}))

	ltp, err := client.GetOptionLTP(context.Background(), niftyInst, 25200, models.RightCall, "12-Feb-2026")
	if err != nil {
		t.Fatalf("GetOptionLTP() error = %v", err)
	}
	if ltp != 42.5 {
		t.Errorf("ltp = %v, expected 42.5", ltp)
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, expected POST", r.Method)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if payload["order_type"] != "market" || payload["validity"] != "day" {
			t.Errorf("expected market/day order, got %q/%q", payload["order_type"], payload["validity"])
		}
		if payload["quantity"] != "65" {
			t.Errorf("quantity = %q, expected 65", payload["quantity"])
		}
		// Order acknowledgement arrives as a single object, not an array
		writeEnvelope(t, w, map[string]string{"order_id": "ORD-1234"})
	}))

	result, err := client.PlaceOrder(context.Background(), niftyInst, 25200, models.RightCall, models.ActionSell, 65, "12-Feb-2026")
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.OrderID != "ORD-1234" {
		t.Errorf("OrderID = %q, expected ORD-1234", result.OrderID)
	}
}

func TestPlaceOrderGatewayRejection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg := "Insufficient funds"
		if err := json.NewEncoder(w).Encode(map[string]any{
			"Success": nil, "Status": 500, "Error": &msg,
		}); err != nil {
			t.Fatalf("encoding envelope: %v", err)
		}
	}))

	_, err := client.PlaceOrder(context.Background(), niftyInst, 25200, models.RightPut, models.ActionBuy, 65, "12-Feb-2026")
	if err == nil {
		t.Fatal("expected error for gateway rejection")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != 500 {
		t.Errorf("Status = %d, expected 500", apiErr.Status)
	}
	if IsRateLimited(err) {
		t.Error("insufficient funds must not classify as rate limited")
	}
}

func TestRateLimitClassification(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "http 429",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("Too Many Requests"))
			},
			wantStatus: 429,
		},
		{
			name: "throttle text in envelope",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				msg := "Request throttled, please retry"
				_ = json.NewEncoder(w).Encode(map[string]any{"Success": nil, "Status": 200, "Error": &msg})
			},
			wantStatus: 429,
		},
		{
			name: "rate limit text with 500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				msg := "API rate limit exceeded"
				_ = json.NewEncoder(w).Encode(map[string]any{"Success": nil, "Status": 500, "Error": &msg})
			},
			wantStatus: 429,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.GetPositions(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Status != tt.wantStatus {
				t.Errorf("Status = %d, expected %d", apiErr.Status, tt.wantStatus)
			}
			if !IsRateLimited(err) {
				t.Error("expected IsRateLimited(err) = true")
			}
			if !IsTransient(err) {
				t.Error("expected IsTransient(err) = true")
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
	if IsTransient(&APIError{Status: 400, Message: "bad request"}) {
		t.Error("400 must not be transient")
	}
	if !IsTransient(&APIError{Status: 503, Message: "unavailable"}) {
		t.Error("503 must be transient")
	}
	if IsTransient(errors.New("plain error")) {
		t.Error("plain error must not be transient")
	}
}

func TestGetPositions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, []map[string]string{
			{"stock_code": "NIFTY", "strike_price": "25200", "right": "call", "action": "sell", "quantity": "65"},
			{"stock_code": "NIFTY", "strike_price": "25400", "right": "call", "action": "buy", "quantity": "65"},
		})
	}))

	positions, err := client.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].StrikePrice != "25200" || positions[0].Action != "sell" {
		t.Errorf("unexpected first position: %+v", positions[0])
	}
}

func TestNearestExpiry(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name    string
		now     time.Time
		weekday time.Weekday
		want    string
	}{
		{
			name:    "monday to thursday",
			now:     time.Date(2026, 2, 9, 10, 0, 0, 0, ist),
			weekday: time.Thursday,
			want:    "12-Feb-2026",
		},
		{
			name:    "thursday morning stays same day",
			now:     time.Date(2026, 2, 12, 10, 0, 0, 0, ist),
			weekday: time.Thursday,
			want:    "12-Feb-2026",
		},
		{
			name:    "thursday after cutoff rolls a week",
			now:     time.Date(2026, 2, 12, 15, 5, 0, 0, ist),
			weekday: time.Thursday,
			want:    "19-Feb-2026",
		},
		{
			name:    "friday after thursday expiry",
			now:     time.Date(2026, 2, 13, 10, 0, 0, 0, ist),
			weekday: time.Thursday,
			want:    "19-Feb-2026",
		},
		{
			name:    "monday to friday for sensex",
			now:     time.Date(2026, 2, 9, 10, 0, 0, 0, ist),
			weekday: time.Friday,
			want:    "13-Feb-2026",
		},
		{
			name:    "friday before cutoff stays same day",
			now:     time.Date(2026, 2, 13, 14, 59, 0, 0, ist),
			weekday: time.Friday,
			want:    "13-Feb-2026",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatExpiry(NearestExpiry(tt.now, tt.weekday))
			if got != tt.want {
				t.Errorf("NearestExpiry(%v, %v) = %s, expected %s", tt.now, tt.weekday, got, tt.want)
			}
		})
	}
}

func TestUpdateSessionTokenResetsConnection(t *testing.T) {
	client := NewBreezeClient("key", "secret", "old", "http://localhost:1")
	client.connected.Store(true)

	client.UpdateSessionToken("new")

	if client.token() != "new" {
		t.Errorf("token = %q, expected new", client.token())
	}
	if client.connected.Load() {
		t.Error("expected connected flag cleared after token rotation")
	}
}
