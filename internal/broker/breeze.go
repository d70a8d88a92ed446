package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/models"
)

// BreezeDateFormat is the DD-Mon-YYYY date format the gateway expects,
// e.g. 11-Feb-2026.
const BreezeDateFormat = "02-Jan-2006"

// expiryRollHour is the IST hour after which the current expiry day rolls to
// next week's contract.
const expiryRollHour = 15

const maxResponseBytes = 1 << 20 // 1 MiB

// BreezeClient is an HTTP client for the Breeze REST API implementing Broker.
type BreezeClient struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	apiSecret string

	mu           sync.RWMutex
	sessionToken string

	connected atomic.Bool
	log       *logrus.Entry
}

// Ensure BreezeClient implements Broker at compile time.
var _ Broker = (*BreezeClient)(nil)

// NewBreezeClient creates a Breeze API client. baseURL has the trailing slash
// normalized away; an empty baseURL gets the production endpoint.
func NewBreezeClient(apiKey, apiSecret, sessionToken, baseURL string) *BreezeClient {
	if baseURL == "" {
		baseURL = "https://api.icicidirect.com/breezeapi/api/v1"
	}
	return &BreezeClient{
		client:       &http.Client{Timeout: 10 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		sessionToken: sessionToken,
		log:          logrus.WithField("component", "breeze"),
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (b *BreezeClient) WithHTTPClient(c *http.Client) *BreezeClient {
	if c != nil {
		b.client = c
	}
	return b
}

// Connect validates credentials against the customer-details endpoint and
// marks the session established.
func (b *BreezeClient) Connect(ctx context.Context) error {
	if b.apiKey == "" || b.apiSecret == "" || b.token() == "" {
		return fmt.Errorf("missing Breeze API credentials")
	}
	if _, err := b.doRequest(ctx, http.MethodGet, "/customerdetails", map[string]string{
		"SessionToken": b.token(),
		"AppKey":       b.apiKey,
	}); err != nil {
		return fmt.Errorf("establishing session: %w", err)
	}
	b.connected.Store(true)
	b.log.Info("Breeze API session generated successfully")
	return nil
}

// UpdateSessionToken swaps in a fresh daily session token and forces a new
// Connect before further calls.
func (b *BreezeClient) UpdateSessionToken(token string) {
	b.mu.Lock()
	b.sessionToken = token
	b.mu.Unlock()
	b.connected.Store(false)
	b.log.Info("Session token updated")
}

func (b *BreezeClient) token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionToken
}

// GetSpotPrice fetches the cash-segment last traded price for the index,
// trying the derivative stock code first and the cash alias as fallback.
func (b *BreezeClient) GetSpotPrice(ctx context.Context, inst Instrument) (float64, error) {
	if !b.connected.Load() {
		return 0, ErrNotConnected
	}

	codes := []string{inst.StockCode}
	if inst.CashCode != "" && inst.CashCode != inst.StockCode {
		codes = append(codes, inst.CashCode)
	}

	var lastErr error
	for _, code := range codes {
		ltp, err := b.quoteLTP(ctx, map[string]string{
			"stock_code":    code,
			"exchange_code": inst.CashExchange,
			"product_type":  "cash",
		})
		if err != nil {
			lastErr = err
			continue
		}
		if ltp > 0 {
			return ltp, nil
		}
	}
	if lastErr != nil {
		return 0, fmt.Errorf("fetching spot price for %s: %w", inst.StockCode, lastErr)
	}
	return 0, fmt.Errorf("no spot price available for %s", inst.StockCode)
}

// GetOptionLTP fetches the last traded premium for one option contract.
func (b *BreezeClient) GetOptionLTP(ctx context.Context, inst Instrument, strike float64,
	right models.Right, expiry string) (float64, error) {
	if !b.connected.Load() {
		return 0, ErrNotConnected
	}

	ltp, err := b.quoteLTP(ctx, map[string]string{
		"stock_code":    inst.StockCode,
		"exchange_code": inst.Exchange,
		"product_type":  "options",
		"expiry_date":   expiry,
		"strike_price":  formatStrike(strike),
		"right":         string(right),
	})
	if err != nil {
		return 0, fmt.Errorf("fetching option LTP %s %s %s: %w", formatStrike(strike), right.Short(), expiry, err)
	}
	return ltp, nil
}

// PlaceOrder places a market order with day validity for one option leg.
func (b *BreezeClient) PlaceOrder(ctx context.Context, inst Instrument, strike float64,
	right models.Right, action models.Action, quantity int, expiry string) (*OrderResult, error) {
	if !b.connected.Load() {
		return nil, ErrNotConnected
	}

	payload := map[string]string{
		"stock_code":         inst.StockCode,
		"exchange_code":      inst.Exchange,
		"product":            "options",
		"action":             string(action),
		"order_type":         "market",
		"stoploss":           "",
		"quantity":           strconv.Itoa(quantity),
		"price":              "",
		"validity":           "day",
		"validity_date":      time.Now().Format(BreezeDateFormat),
		"disclosed_quantity": "0",
		"expiry_date":        expiry,
		"right":              string(right),
		"strike_price":       formatStrike(strike),
	}

	raw, err := b.doRequest(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return nil, fmt.Errorf("placing %s order %s%s: %w", action, formatStrike(strike), right.Short(), err)
	}

	var ack struct {
		OrderID string `json:"order_id"`
	}
	records, err := decodeRecords[json.RawMessage](raw)
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("order acknowledgement missing: %w", err)
	}
	if err := json.Unmarshal(records[0], &ack); err != nil {
		return nil, fmt.Errorf("decoding order acknowledgement: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"action":   action,
		"strike":   formatStrike(strike),
		"right":    right.Short(),
		"quantity": quantity,
		"order_id": ack.OrderID,
	}).Info("Order placed")

	return &OrderResult{OrderID: ack.OrderID}, nil
}

// GetPositions returns the gateway's view of open positions.
func (b *BreezeClient) GetPositions(ctx context.Context) ([]PositionItem, error) {
	if !b.connected.Load() {
		return nil, ErrNotConnected
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/portfoliopositions", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	return decodeRecords[PositionItem](raw)
}

// quoteRecord is the subset of a quote payload the bot consumes.
type quoteRecord struct {
	LTP json.Number `json:"ltp"`
}

func (b *BreezeClient) quoteLTP(ctx context.Context, payload map[string]string) (float64, error) {
	raw, err := b.doRequest(ctx, http.MethodGet, "/quotes", payload)
	if err != nil {
		return 0, err
	}
	records, err := decodeRecords[quoteRecord](raw)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	ltp, err := records[0].LTP.Float64()
	if err != nil {
		return 0, fmt.Errorf("parsing ltp %q: %w", records[0].LTP, err)
	}
	return ltp, nil
}

// envelope is the gateway response wrapper: Success holds the records on
// success, Error the failure reason otherwise.
type envelope struct {
	Success json.RawMessage `json:"Success"`
	Status  int             `json:"Status"`
	Error   *string         `json:"Error"`
}

// doRequest signs and executes one gateway call and unwraps the envelope.
func (b *BreezeClient) doRequest(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	// The gateway sends JSON bodies on GET requests too.
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05") + ".000Z"
	checksum := sha256.Sum256([]byte(timestamp + string(body) + b.apiSecret))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Checksum", "token "+hex.EncodeToString(checksum[:]))
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-AppKey", b.apiKey)
	req.Header.Set("X-SessionToken", b.token())

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	if env.Error != nil && *env.Error != "" {
		status := env.Status
		if status == 0 || status == http.StatusOK {
			status = http.StatusInternalServerError
		}
		return nil, classifyError(status, *env.Error)
	}
	if len(env.Success) == 0 || string(env.Success) == "null" {
		return nil, classifyError(http.StatusInternalServerError, "empty success payload")
	}
	return env.Success, nil
}

// classifyError builds the structured error for a gateway failure. Throttle
// responses arrive both as HTTP 429 and as in-envelope error text, so the
// text is inspected once here and never again by callers.
func classifyError(status int, message string) *APIError {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "rate") || strings.Contains(lower, "limit") || strings.Contains(lower, "throttl") {
		status = http.StatusTooManyRequests
	}
	return &APIError{Status: status, Message: message}
}

// decodeRecords unwraps a Success payload that may be a single object or an
// array of objects.
func decodeRecords[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return []T{one}, nil
}

// formatStrike renders a strike price without a decimal point, the way the
// gateway expects it.
func formatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

// NearestExpiry returns the nearest weekly expiry on the given weekday,
// rolling a week forward when the expiry day's 15:00 cutoff has passed.
func NearestExpiry(now time.Time, weekday time.Weekday) time.Time {
	daysAhead := (int(weekday) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 && now.Hour() >= expiryRollHour {
		daysAhead = 7
	}
	return now.AddDate(0, 0, daysAhead)
}

// FormatExpiry renders an expiry date in the gateway's DD-Mon-YYYY format.
func FormatExpiry(t time.Time) string {
	return t.Format(BreezeDateFormat)
}
