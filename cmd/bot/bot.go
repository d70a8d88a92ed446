package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/config"
	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/notify"
	"github.com/ashwinkp/condorbot/internal/storage"
	"github.com/ashwinkp/condorbot/internal/strategy"
)

const (
	// dailyResetHour/Minute is when per-day flags and machines return to Idle
	dailyResetHour   = 9
	dailyResetMinute = 0
	// gateGrace is how far past a gate's target minute a late tick still fires
	gateGrace = time.Minute

	monitorInterval = 30 * time.Second
)

// dailyGate fires at most once per day when the clock enters
// [target, target+grace). A tick that lands later than the grace window is
// skipped for the day rather than fired late.
type dailyGate struct {
	grace     time.Duration
	lastFired string
}

func newDailyGate() *dailyGate {
	return &dailyGate{grace: gateGrace}
}

// Due reports whether the gate fires at now for the given target time,
// marking the day consumed when it does.
func (g *dailyGate) Due(now time.Time, hour, minute int) bool {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(target) || now.Sub(target) >= g.grace {
		return false
	}
	date := now.Format("2006-01-02")
	if g.lastFired == date {
		return false
	}
	g.lastFired = date
	return true
}

// Bot owns the trading schedule and serves as the dashboard's controller.
type Bot struct {
	cfg      *config.Config
	broker   broker.Broker
	store    storage.Interface
	state    *models.BotState
	notifier *notify.Notifier
	log      *logrus.Logger
	loc      *time.Location

	mu         sync.Mutex
	strategies map[string]*strategy.CondorStrategy
	entryGate  *dailyGate
	exitGate   *dailyGate
	resetGate  *dailyGate

	stratOpts []strategy.Option
}

// NewBot wires the strategies and gates for every enabled index.
func NewBot(cfg *config.Config, brk broker.Broker, store storage.Interface,
	state *models.BotState, log *logrus.Logger, stratOpts ...strategy.Option) *Bot {
	b := &Bot{
		cfg:        cfg,
		broker:     brk,
		store:      store,
		state:      state,
		log:        log,
		loc:        cfg.Location(),
		strategies: make(map[string]*strategy.CondorStrategy),
		entryGate:  newDailyGate(),
		exitGate:   newDailyGate(),
		resetGate:  newDailyGate(),
		stratOpts:  stratOpts,
	}
	for name, idx := range cfg.Indices {
		b.strategies[name] = strategy.NewCondorStrategy(
			brk, idx, b.loc, cfg.Risk.RollbackPartialEntry, stratOpts...)
	}
	return b
}

// SetNotifier attaches the Telegram notifier after construction; the
// notifier's command handlers need the bot, so the two are built in stages.
func (b *Bot) SetNotifier(n *notify.Notifier) {
	b.notifier = n
}

// Run drives the scheduler loops until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	minuteTicker := time.NewTicker(time.Minute)
	defer minuteTicker.Stop()
	monitorTicker := time.NewTicker(monitorInterval)
	defer monitorTicker.Stop()

	b.log.Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Scheduler stopped")
			return nil
		case <-minuteTicker.C:
			b.minuteTick(ctx, time.Now().In(b.loc))
		case <-monitorTicker.C:
			b.monitorTick(ctx, time.Now().In(b.loc))
		}
	}
}

// minuteTick handles the daily reset and the entry/exit gates.
func (b *Bot) minuteTick(ctx context.Context, now time.Time) {
	b.mu.Lock()
	resetDue := b.resetGate.Due(now, dailyResetHour, dailyResetMinute)
	entryDue := b.entryGate.Due(now, b.cfg.Schedule.EntryHour, b.cfg.Schedule.EntryMinute)
	exitDue := b.exitGate.Due(now, b.cfg.Schedule.ExitHour, b.cfg.Schedule.ExitMinute)
	b.mu.Unlock()

	if resetDue {
		date := now.Format("2006-01-02")
		b.state.ResetDaily(date)
		b.log.WithField("date", date).Info("Daily reset completed")
	}

	if !b.state.Running() {
		return
	}

	if entryDue {
		if !b.cfg.IsMarketOpen(now) {
			b.log.Info("Entry window reached but market is closed, skipping")
			b.state.SetStatus("entry skipped: market closed")
			return
		}
		for name := range b.strategies {
			b.enterIndex(ctx, name)
		}
	}

	if exitDue {
		for name := range b.strategies {
			if b.state.StateOf(name) == models.StateActive {
				b.exitIndex(ctx, name, "scheduled exit", models.CondExitWindow)
			}
		}
	}
}

// monitorTick refreshes live P&L for active positions and enforces the
// stop-loss and target-profit overrides.
func (b *Bot) monitorTick(ctx context.Context, now time.Time) {
	if !b.state.Running() || !b.cfg.IsMarketOpen(now) {
		return
	}

	for name, strat := range b.strategies {
		if b.state.StateOf(name) != models.StateActive {
			continue
		}

		pnl, lines, err := strat.LivePnL(ctx)
		if err != nil {
			b.log.WithError(err).WithField("index", name).Warn("Live P&L refresh failed")
			continue
		}
		b.state.SetUnrealized(name, pnl, lines)

		params := strat.Index().Params()
		switch {
		case pnl <= -params.MaxLoss:
			b.log.WithFields(logrus.Fields{"index": name, "pnl": pnl}).
				Warn("Stop loss breached, exiting position")
			b.notifyPnL(name, pnl, "Stop loss breached, exiting", lines)
			b.exitIndex(ctx, name, "stop loss", models.CondStopLoss)
		case pnl >= params.TargetProfit:
			b.log.WithFields(logrus.Fields{"index": name, "pnl": pnl}).
				Info("Target profit reached, exiting position")
			b.notifyPnL(name, pnl, "Target profit reached, exiting", lines)
			b.exitIndex(ctx, name, "target profit", models.CondTargetProfit)
		}
	}
}

// enterIndex runs the entry sequence for one index.
func (b *Bot) enterIndex(ctx context.Context, name string) {
	strat := b.strategies[name]
	if !strat.Index().Params().Enabled {
		return
	}
	if b.state.StateOf(name) != models.StateIdle {
		return
	}

	if err := b.state.Transition(name, models.StateEntering, models.CondEntryWindow); err != nil {
		b.log.WithError(err).WithField("index", name).Error("Entry transition rejected")
		return
	}
	b.state.SetStatus("%s: placing condor legs", name)

	result, err := strat.EnterPosition(ctx)
	if err != nil {
		b.log.WithError(err).WithField("index", name).Error("Entry failed")
		_ = b.state.Transition(name, models.StateIdle, models.CondEntryAborted)
		b.state.SetStatus("%s: entry failed", name)
		b.notifyError(fmt.Sprintf("%s entry failed: %v", name, err))
		return
	}

	if result.Aborted {
		b.log.WithField("index", name).Infof("Entry aborted: %s", result.AbortReason)
		_ = b.state.Transition(name, models.StateIdle, models.CondEntryAborted)
		b.state.SetStatus("%s: entry aborted (%s)", name, result.AbortReason)
		b.notify(fmt.Sprintf("⚠️ *%s entry skipped*\n%s", name, result.AbortReason))
		return
	}

	if err := b.state.Transition(name, models.StateActive, models.CondLegsPlaced); err != nil {
		b.log.WithError(err).WithField("index", name).Error("Activation transition rejected")
	}
	b.state.SetStatus("%s: condor open, collecting ₹%.2f", name, result.Total)

	trade := models.Trade{
		ID:        uuid.NewString(),
		Date:      time.Now().In(b.loc).Format("2006-01-02"),
		Index:     name,
		Kind:      "entry",
		Legs:      result.Legs,
		Premium:   result.Total,
		Timestamp: time.Now().UTC(),
	}
	b.state.AddTrade(trade)
	if err := b.store.AddTrade(trade); err != nil {
		b.log.WithError(err).Warn("Recording entry trade failed")
	}

	b.notify(notify.FormatEntry(name, result.Legs, result.NetPremium, result.Total, result.Expiry))
	if result.Partial {
		b.notifyError(fmt.Sprintf("%s: %d entry leg(s) failed, manual check needed", name, result.FailedLegs))
	}
}

// exitIndex closes the position for one index and books the result. The
// condition selects the path through the state machine and the terminal state.
func (b *Bot) exitIndex(ctx context.Context, name, reason, condition string) {
	strat := b.strategies[name]

	if err := b.state.Transition(name, models.StateExiting, condition); err != nil {
		b.log.WithError(err).WithField("index", name).Error("Exit transition rejected")
		return
	}

	result, err := strat.ExitPosition(ctx, reason)
	if err != nil {
		b.log.WithError(err).WithField("index", name).Error("Exit failed")
		b.notifyError(fmt.Sprintf("%s exit failed: %v", name, err))
		return
	}

	terminal, terminalCond := models.StateClosed, models.CondExitComplete
	switch condition {
	case models.CondStopLoss:
		terminal, terminalCond = models.StateStoppedOut, models.CondStoppedOut
	case models.CondManualExit:
		terminal, terminalCond = models.StateEmergencyExit, models.CondEmergencyDone
	}
	if err := b.state.Transition(name, terminal, terminalCond); err != nil {
		b.log.WithError(err).WithField("index", name).Error("Terminal transition rejected")
	}

	if result.Flat {
		b.state.SetStatus("%s: no position to exit", name)
		return
	}

	b.state.AddRealized(name, result.RealizedPnL)
	b.state.SetStatus("%s: closed, realized ₹%.2f (%s)", name, result.RealizedPnL, reason)

	trade := models.Trade{
		ID:        uuid.NewString(),
		Date:      time.Now().In(b.loc).Format("2006-01-02"),
		Index:     name,
		Kind:      "exit",
		Legs:      result.Legs,
		PnL:       result.RealizedPnL,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	b.state.AddTrade(trade)
	if err := b.store.AddTrade(trade); err != nil {
		b.log.WithError(err).Warn("Recording exit trade failed")
	}

	b.notify(notify.FormatExit(name, result.RealizedPnL, reason))
	if result.FailedLegs > 0 {
		b.notifyError(fmt.Sprintf("%s: %d exit leg(s) failed, manual check needed", name, result.FailedLegs))
	}
}

// ---- dashboard.Controller ----

// Start enables trading.
func (b *Bot) Start() error {
	if b.state.Running() {
		return fmt.Errorf("bot already running")
	}
	b.state.SetRunning(true)
	b.state.SetStatus("started")
	b.log.Info("Bot started")
	b.notify("▶️ Bot started")
	return nil
}

// Stop disables trading, optionally exiting open positions first.
func (b *Bot) Stop(exitPositions bool) error {
	if exitPositions {
		if err := b.EmergencyExitAll(); err != nil {
			return err
		}
	}
	b.state.SetRunning(false)
	b.state.SetStatus("stopped")
	b.log.Info("Bot stopped")
	b.notify("⏹ Bot stopped")
	return nil
}

// UpdateSessionToken rotates the gateway session token and reconnects.
func (b *Bot) UpdateSessionToken(token string) {
	b.broker.UpdateSessionToken(token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.broker.Connect(ctx); err != nil {
		b.log.WithError(err).Error("Reconnect with new session token failed")
		b.notifyError(fmt.Sprintf("Reconnect failed: %v", err))
		return
	}
	b.state.SetStatus("session token updated")
	b.log.Info("Session token updated and reconnected")
}

// UpdateGlobalConfig applies a schedule update from the dashboard.
func (b *Bot) UpdateGlobalConfig(params map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.UpdateSchedule(params)
}

// UpdateIndexConfig applies a per-index parameter update from the dashboard.
func (b *Bot) UpdateIndexConfig(index string, params map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.cfg.Indices[index]
	if !ok {
		return fmt.Errorf("unknown index %q", index)
	}
	return idx.Update(params)
}

// EmergencyExit force-closes the position for one index.
func (b *Bot) EmergencyExit(index string) error {
	if _, ok := b.strategies[index]; !ok {
		return fmt.Errorf("unknown index %q", index)
	}
	if b.state.StateOf(index) != models.StateActive {
		return fmt.Errorf("%s has no active position", index)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	b.exitIndex(ctx, index, "manual exit", models.CondManualExit)
	return nil
}

// EmergencyExitAll force-closes every active position.
func (b *Bot) EmergencyExitAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for name := range b.strategies {
		if b.state.StateOf(name) == models.StateActive {
			b.exitIndex(ctx, name, "manual exit", models.CondManualExit)
		}
	}
	return nil
}

// Snapshot returns the current bot state for the dashboard.
func (b *Bot) Snapshot() models.Snapshot {
	return b.state.Snapshot()
}

// MarketOpen reports whether the cash session is open right now.
func (b *Bot) MarketOpen() bool {
	return b.cfg.IsMarketOpen(time.Now())
}

// StatusText renders the /status reply for Telegram.
func (b *Bot) StatusText() string {
	now := time.Now().In(b.loc)
	snap := b.state.Snapshot()

	market := "🔴 Closed"
	if b.cfg.IsMarketOpen(now) {
		market = "🟢 Open"
	}
	running := "⏹ Stopped"
	if snap.Running {
		running = "▶️ Running"
	}

	text := fmt.Sprintf(`📊 *Bot Status*

⏰ Time: %s
📅 Session: %s

🏪 Market: %s
🤖 Bot: %s
💰 Unrealized: ₹%.2f
💵 Realized: ₹%.2f`,
		now.Format("15:04:05"), b.state.TradingDate(),
		market, running, snap.UnrealizedPnL, snap.RealizedPnL)

	for name, idx := range snap.Indices {
		text += fmt.Sprintf("\n\n*%s*: %s", name, idx.StateDescription)
	}
	return text
}

func (b *Bot) notify(text string) {
	if b.notifier != nil {
		b.notifier.Send(text)
	}
}

func (b *Bot) notifyError(text string) {
	b.log.Error(text)
	if b.notifier != nil {
		b.notifier.SendError(text)
	}
}

func (b *Bot) notifyPnL(index string, pnl float64, status string, lines []string) {
	if b.notifier != nil {
		b.notifier.SendPnLUpdate(index, pnl, status, lines)
	}
}
