package models

import (
	"fmt"
	"sync"
	"time"
)

// BotState is the process-wide mutable trading state shared between the
// scheduler, the dashboard, and the Telegram listener. Every read goes through
// Snapshot (a deep copy) and every write through a method, so the monitoring
// surface never observes a half-applied update.
type BotState struct {
	mu          sync.RWMutex
	running     bool
	status      string
	lastUpdate  time.Time
	tradingDate string
	indices     map[string]*indexStatus
	trades      []Trade
	realizedPnL float64
}

type indexStatus struct {
	machine    *StateMachine
	unrealized float64
	realized   float64
	positions  []string
}

// IndexSnapshot is the read-only view of one index's status.
type IndexSnapshot struct {
	State            IndexState `json:"state"`
	StateDescription string     `json:"state_description"`
	UnrealizedPnL    float64    `json:"unrealized_pnl"`
	RealizedPnL      float64    `json:"realized_pnl"`
	Positions        []string   `json:"positions"`
}

// Snapshot is a consistent point-in-time copy of the whole bot state.
type Snapshot struct {
	Running       bool                     `json:"running"`
	Status        string                   `json:"status"`
	LastUpdate    time.Time                `json:"last_update"`
	TradingDate   string                   `json:"trading_date"`
	RealizedPnL   float64                  `json:"realized_pnl"`
	UnrealizedPnL float64                  `json:"unrealized_pnl"`
	Indices       map[string]IndexSnapshot `json:"indices"`
	Trades        []Trade                  `json:"trades"`
}

// NewBotState creates bot state with one Idle machine per index name.
func NewBotState(indexNames []string) *BotState {
	s := &BotState{
		indices:     make(map[string]*indexStatus, len(indexNames)),
		status:      "initialized",
		lastUpdate:  time.Now().UTC(),
		tradingDate: time.Now().UTC().Format("2006-01-02"),
	}
	for _, name := range indexNames {
		s.indices[name] = &indexStatus{machine: NewStateMachine()}
	}
	return s
}

// SetRunning flips the running flag.
func (s *BotState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	s.touch()
}

// Running reports whether the bot is accepting scheduler ticks.
func (s *BotState) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetStatus updates the human-readable status line.
func (s *BotState) SetStatus(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fmt.Sprintf(format, args...)
	s.touch()
}

// StateOf returns the current state of the named index, or StateIdle if the
// index is unknown.
func (s *BotState) StateOf(index string) IndexState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.indices[index]
	if !ok {
		return StateIdle
	}
	return st.machine.Current()
}

// Transition moves the named index to a new state via its state machine.
func (s *BotState) Transition(index string, to IndexState, condition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.indices[index]
	if !ok {
		return fmt.Errorf("unknown index %q", index)
	}
	if err := st.machine.Transition(to, condition); err != nil {
		return err
	}
	s.touch()
	return nil
}

// SetUnrealized records the latest live P&L and leg lines for an index.
func (s *BotState) SetUnrealized(index string, pnl float64, positions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.indices[index]; ok {
		st.unrealized = pnl
		st.positions = append([]string(nil), positions...)
		s.touch()
	}
}

// AddRealized books realized P&L for an index, clears its unrealized P&L and
// open-position lines, and adds to the process total.
func (s *BotState) AddRealized(index string, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.indices[index]; ok {
		st.realized += pnl
		st.unrealized = 0
		st.positions = nil
	}
	s.realizedPnL += pnl
	s.touch()
}

// AddTrade appends a trade to the day's log.
func (s *BotState) AddTrade(trade Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	s.touch()
}

// ResetDaily clears per-day flags, trades and P&L and returns every index
// machine to Idle. The running flag is preserved.
func (s *BotState) ResetDaily(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradingDate = date
	s.trades = nil
	s.realizedPnL = 0
	for _, st := range s.indices {
		st.machine.Reset()
		st.unrealized = 0
		st.realized = 0
		st.positions = nil
	}
	s.status = "daily reset"
	s.touch()
}

// TradingDate returns the date of the last daily reset.
func (s *BotState) TradingDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradingDate
}

// Snapshot returns a deep copy of the state for the dashboard and alerts.
func (s *BotState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Running:     s.running,
		Status:      s.status,
		LastUpdate:  s.lastUpdate,
		TradingDate: s.tradingDate,
		RealizedPnL: s.realizedPnL,
		Indices:     make(map[string]IndexSnapshot, len(s.indices)),
		Trades:      append([]Trade(nil), s.trades...),
	}
	for name, st := range s.indices {
		snap.UnrealizedPnL += st.unrealized
		snap.Indices[name] = IndexSnapshot{
			State:            st.machine.Current(),
			StateDescription: st.machine.Description(),
			UnrealizedPnL:    st.unrealized,
			RealizedPnL:      st.realized,
			Positions:        append([]string(nil), st.positions...),
		}
	}
	return snap
}

// touch must be called with the write lock held.
func (s *BotState) touch() {
	s.lastUpdate = time.Now().UTC()
}
