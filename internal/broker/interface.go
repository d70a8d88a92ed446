// Package broker provides the trading gateway client for executing option
// orders through the ICICI Breeze REST API.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ashwinkp/condorbot/internal/models"
)

// ErrNotConnected is returned by data and order calls before Connect succeeds.
var ErrNotConnected = errors.New("broker session not established")

// Instrument identifies one tradable index on the gateway.
type Instrument struct {
	StockCode    string // derivative stock code, e.g. NIFTY / BSESEN
	CashCode     string // cash-segment code used for spot quotes
	Exchange     string // derivative exchange, NFO / BFO
	CashExchange string // cash exchange, NSE / BSE
}

// OrderResult is the gateway's acknowledgement of a placed order.
type OrderResult struct {
	OrderID string
}

// PositionItem is one open position as reported by the gateway.
type PositionItem struct {
	StockCode    string `json:"stock_code"`
	ExchangeCode string `json:"exchange_code"`
	ProductType  string `json:"product_type"`
	StrikePrice  string `json:"strike_price"`
	Right        string `json:"right"`
	Action       string `json:"action"`
	Quantity     string `json:"quantity"`
	ExpiryDate   string `json:"expiry_date"`
}

// Broker defines the interface for interacting with the options gateway.
type Broker interface {
	// Connect validates credentials and establishes the API session.
	Connect(ctx context.Context) error

	// Market data
	GetSpotPrice(ctx context.Context, inst Instrument) (float64, error)
	GetOptionLTP(ctx context.Context, inst Instrument, strike float64,
		right models.Right, expiry string) (float64, error)

	// Order placement; market orders with day validity
	PlaceOrder(ctx context.Context, inst Instrument, strike float64,
		right models.Right, action models.Action, quantity int, expiry string) (*OrderResult, error)

	// Account
	GetPositions(ctx context.Context) ([]PositionItem, error)

	// UpdateSessionToken swaps in a fresh daily session token.
	UpdateSessionToken(token string)
}

// APIError represents a gateway error with an HTTP-style status code. Rate
// limiting is classified here, at the gateway boundary, so callers never
// inspect message text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("breeze api error %d: %s", e.Status, e.Message)
}

// IsRateLimited reports whether the error is a throttling response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 429
}

// IsTransient reports whether the error is worth retrying: throttling,
// gateway-side 5xx, or a network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so a
// flapping gateway stops receiving order traffic until it recovers.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BreezeCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Connect wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Connect(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Connect(ctx)
	})
	return err
}

// GetSpotPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetSpotPrice(ctx context.Context, inst Instrument) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetSpotPrice(ctx, inst)
	})
}

// GetOptionLTP wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionLTP(ctx context.Context, inst Instrument, strike float64,
	right models.Right, expiry string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetOptionLTP(ctx, inst, strike, right, expiry)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, inst Instrument, strike float64,
	right models.Right, action models.Action, quantity int, expiry string) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.PlaceOrder(ctx, inst, strike, right, action, quantity, expiry)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx)
	})
}

// UpdateSessionToken passes through to the underlying broker. Token rotation
// is local state, not a gateway call, so it bypasses the breaker.
func (c *CircuitBreakerBroker) UpdateSessionToken(token string) {
	c.broker.UpdateSessionToken(token)
}
