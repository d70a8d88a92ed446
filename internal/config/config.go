// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Market session constants (IST).
const (
	// MarketOpenHour/Minute is the NSE/BSE session open
	MarketOpenHour   = 9
	MarketOpenMinute = 15
	// MarketCloseHour/Minute is the NSE/BSE session close
	MarketCloseHour   = 15
	MarketCloseMinute = 30
)

// Lot-size multiplier bounds applied to dashboard updates.
const (
	minLotSize = 1
	maxLotSize = 10
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig       `yaml:"environment"`
	Broker      BrokerConfig            `yaml:"broker"`
	Telegram    TelegramConfig          `yaml:"telegram"`
	Schedule    ScheduleConfig          `yaml:"schedule"`
	Dashboard   DashboardConfig         `yaml:"dashboard"`
	Storage     StorageConfig           `yaml:"storage"`
	Risk        RiskConfig              `yaml:"risk"`
	Indices     map[string]*IndexConfig `yaml:"indices"`
}

// EnvironmentConfig defines process-level settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines Breeze API settings.
type BrokerConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	SessionToken string `yaml:"session_token"`
	BaseURL      string `yaml:"base_url"`
}

// TelegramConfig defines Telegram alert settings.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// ScheduleConfig defines entry/exit times and the timezone (IST by default).
type ScheduleConfig struct {
	EntryHour   int    `yaml:"entry_hour"`
	EntryMinute int    `yaml:"entry_minute"`
	ExitHour    int    `yaml:"exit_hour"`
	ExitMinute  int    `yaml:"exit_minute"`
	Timezone    string `yaml:"timezone"`
}

// DashboardConfig defines the web dashboard settings.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig defines trade-history storage settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RiskConfig defines risk-policy settings.
type RiskConfig struct {
	// RollbackPartialEntry unwinds successfully placed legs when one or more
	// of the four entry orders fails. When false the position is flagged for
	// manual intervention instead.
	RollbackPartialEntry bool `yaml:"rollback_partial_entry"`
}

// IndexConfig holds the static and dashboard-mutable parameters for one
// index. The mutable fields are written by the dashboard while the scheduler
// trades, so they are guarded by a mutex: writes go through Update, reads
// through Params.
type IndexConfig struct {
	Name         string  `yaml:"name"`
	StockCode    string  `yaml:"stock_code"`
	CashCode     string  `yaml:"cash_code"`
	Exchange     string  `yaml:"exchange"`      // NFO for NIFTY, BFO for SENSEX
	CashExchange string  `yaml:"cash_exchange"` // NSE / BSE
	LotQty       int     `yaml:"lot_qty"`
	StrikeStep   float64 `yaml:"strike_step"`
	ExpiryDay    string  `yaml:"expiry_day"` // thursday | friday

	mu           sync.RWMutex
	Enabled      bool    `yaml:"enabled"`
	LotSize      int     `yaml:"lot_size"`
	CESellOffset float64 `yaml:"ce_sell_offset"`
	CEBuyOffset  float64 `yaml:"ce_buy_offset"`
	PESellOffset float64 `yaml:"pe_sell_offset"`
	PEBuyOffset  float64 `yaml:"pe_buy_offset"`
	MinPremium   float64 `yaml:"min_premium"`
	MaxLoss      float64 `yaml:"max_loss"`
	TargetProfit float64 `yaml:"target_profit"`
}

// IndexParams is a point-in-time copy of the dashboard-mutable parameters.
// Callers take one copy per operation so a concurrent dashboard update can
// never interleave with an entry or a risk check in progress.
type IndexParams struct {
	Enabled      bool
	LotSize      int
	LotQty       int
	CESellOffset float64
	CEBuyOffset  float64
	PESellOffset float64
	PEBuyOffset  float64
	MinPremium   float64
	MaxLoss      float64
	TargetProfit float64
}

// Quantity returns the order quantity: lot-size multiplier times the
// exchange lot quantity.
func (p IndexParams) Quantity() int {
	return p.LotSize * p.LotQty
}

// Params returns a consistent copy of the mutable parameters.
func (idx *IndexConfig) Params() IndexParams {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return IndexParams{
		Enabled:      idx.Enabled,
		LotSize:      idx.LotSize,
		LotQty:       idx.LotQty,
		CESellOffset: idx.CESellOffset,
		CEBuyOffset:  idx.CEBuyOffset,
		PESellOffset: idx.PESellOffset,
		PEBuyOffset:  idx.PEBuyOffset,
		MinPremium:   idx.MinPremium,
		MaxLoss:      idx.MaxLoss,
		TargetProfit: idx.TargetProfit,
	}
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables so credentials never live in the file
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://api.icicidirect.com/breezeapi/api/v1"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Kolkata"
	}
	// A 00:00 entry or exit time means "use the default"; midnight is never
	// a valid gate for a 09:15-15:30 market session.
	if c.Schedule.EntryHour == 0 && c.Schedule.EntryMinute == 0 {
		c.Schedule.EntryHour = 9
		c.Schedule.EntryMinute = 20
	}
	if c.Schedule.ExitHour == 0 && c.Schedule.ExitMinute == 0 {
		c.Schedule.ExitHour = 15
		c.Schedule.ExitMinute = 15
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "bot_data.json"
	}
	for name, idx := range c.Indices {
		if idx.Name == "" {
			idx.Name = name
		}
		if idx.StockCode == "" {
			idx.StockCode = idx.Name
		}
		if idx.CashCode == "" {
			idx.CashCode = idx.StockCode
		}
		if idx.CashExchange == "" {
			if idx.Exchange == "BFO" {
				idx.CashExchange = "BSE"
			} else {
				idx.CashExchange = "NSE"
			}
		}
		if idx.LotSize == 0 {
			idx.LotSize = 1
		}
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Schedule.EntryHour < 0 || c.Schedule.EntryHour > 23 ||
		c.Schedule.EntryMinute < 0 || c.Schedule.EntryMinute > 59 {
		return fmt.Errorf("schedule entry time %02d:%02d is invalid", c.Schedule.EntryHour, c.Schedule.EntryMinute)
	}
	if c.Schedule.ExitHour < 0 || c.Schedule.ExitHour > 23 ||
		c.Schedule.ExitMinute < 0 || c.Schedule.ExitMinute > 59 {
		return fmt.Errorf("schedule exit time %02d:%02d is invalid", c.Schedule.ExitHour, c.Schedule.ExitMinute)
	}
	entry := c.Schedule.EntryHour*60 + c.Schedule.EntryMinute
	exit := c.Schedule.ExitHour*60 + c.Schedule.ExitMinute
	if entry >= exit {
		return fmt.Errorf("schedule entry time %02d:%02d must be before exit time %02d:%02d",
			c.Schedule.EntryHour, c.Schedule.EntryMinute, c.Schedule.ExitHour, c.Schedule.ExitMinute)
	}

	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d is invalid", c.Dashboard.Port)
	}

	if len(c.Indices) == 0 {
		return fmt.Errorf("at least one index must be configured")
	}
	for name, idx := range c.Indices {
		if err := idx.validate(); err != nil {
			return fmt.Errorf("indices.%s: %w", name, err)
		}
	}

	return nil
}

func (idx *IndexConfig) validate() error {
	if idx.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if idx.LotQty <= 0 {
		return fmt.Errorf("lot_qty must be > 0")
	}
	if idx.StrikeStep <= 0 {
		return fmt.Errorf("strike_step must be > 0")
	}
	switch strings.ToLower(idx.ExpiryDay) {
	case "thursday", "friday":
	default:
		return fmt.Errorf("expiry_day must be thursday or friday, got %q", idx.ExpiryDay)
	}
	if idx.LotSize < minLotSize || idx.LotSize > maxLotSize {
		return fmt.Errorf("lot_size must be between %d and %d", minLotSize, maxLotSize)
	}
	if idx.CESellOffset <= 0 || idx.PESellOffset <= 0 {
		return fmt.Errorf("sell offsets must be > 0")
	}
	if idx.CEBuyOffset <= idx.CESellOffset {
		return fmt.Errorf("ce_buy_offset (%.0f) must be > ce_sell_offset (%.0f)", idx.CEBuyOffset, idx.CESellOffset)
	}
	if idx.PEBuyOffset <= idx.PESellOffset {
		return fmt.Errorf("pe_buy_offset (%.0f) must be > pe_sell_offset (%.0f)", idx.PEBuyOffset, idx.PESellOffset)
	}
	if idx.MinPremium < 0 {
		return fmt.Errorf("min_premium must be >= 0")
	}
	if idx.MaxLoss <= 0 {
		return fmt.Errorf("max_loss must be > 0")
	}
	if idx.TargetProfit <= 0 {
		return fmt.Errorf("target_profit must be > 0")
	}
	return nil
}

// ExpiryWeekday returns the weekly expiry weekday for the index.
func (idx *IndexConfig) ExpiryWeekday() time.Weekday {
	if strings.ToLower(idx.ExpiryDay) == "friday" {
		return time.Friday
	}
	return time.Thursday
}

// Update applies a validated, bounds-clamped parameter update from the
// dashboard. Unknown keys are ignored; a type mismatch fails the whole update.
func (idx *IndexConfig) Update(params map[string]any) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, raw := range params {
		switch key {
		case "lot_size":
			v, err := toInt(raw)
			if err != nil {
				return fmt.Errorf("lot_size: %w", err)
			}
			if v < minLotSize {
				v = minLotSize
			}
			if v > maxLotSize {
				v = maxLotSize
			}
			idx.LotSize = v
		case "ce_sell_offset", "ce_buy_offset", "pe_sell_offset", "pe_buy_offset",
			"min_premium", "max_loss", "target_profit":
			v, err := toFloat(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "ce_sell_offset":
				idx.CESellOffset = v
			case "ce_buy_offset":
				idx.CEBuyOffset = v
			case "pe_sell_offset":
				idx.PESellOffset = v
			case "pe_buy_offset":
				idx.PEBuyOffset = v
			case "min_premium":
				idx.MinPremium = v
			case "max_loss":
				idx.MaxLoss = v
			case "target_profit":
				idx.TargetProfit = v
			}
		case "enabled":
			idx.Enabled = toBool(raw)
		}
	}
	return nil
}

// UpdateSchedule applies a global entry/exit time update from the dashboard.
func (c *Config) UpdateSchedule(params map[string]any) error {
	fields := map[string]*int{
		"entry_hour":   &c.Schedule.EntryHour,
		"entry_minute": &c.Schedule.EntryMinute,
		"exit_hour":    &c.Schedule.ExitHour,
		"exit_minute":  &c.Schedule.ExitMinute,
	}
	for key, target := range fields {
		if raw, ok := params[key]; ok {
			v, err := toInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*target = v
		}
	}
	if c.Schedule.EntryHour < 0 || c.Schedule.EntryHour > 23 ||
		c.Schedule.EntryMinute < 0 || c.Schedule.EntryMinute > 59 ||
		c.Schedule.ExitHour < 0 || c.Schedule.ExitHour > 23 ||
		c.Schedule.ExitMinute < 0 || c.Schedule.ExitMinute > 59 {
		return fmt.Errorf("schedule update out of range")
	}
	return nil
}

// Location returns the configured timezone, falling back to a fixed IST zone
// for minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// IsMarketOpen checks whether the given time falls inside the NSE/BSE cash
// session (09:15-15:30 IST, Monday to Friday).
func (c *Config) IsMarketOpen(now time.Time) bool {
	t := now.In(c.Location())
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	open := MarketOpenHour*60 + MarketOpenMinute
	closeM := MarketCloseHour*60 + MarketCloseMinute
	return minutes >= open && minutes <= closeM
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err != nil {
			return 0, fmt.Errorf("cannot parse %q as int", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func toBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "1" || s == "on"
	case float64:
		return v != 0
	default:
		return false
	}
}
