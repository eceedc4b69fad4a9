// Package position owns the sole mutable Position record — the only
// source of truth for "do we hold a position" — and its FLAT/LONG/PAUSED
// transition rules (spec.md §4.6).
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/signal"
)

// ErrInvalidTransition is returned by transition methods whose precondition
// failed; it never represents an unexpected/system fault.
var ErrInvalidTransition = errors.New("position: invalid state transition")

// State is one of the three positions the machine can occupy.
type State string

const (
	StateFlat   State = "FLAT"
	StateLong   State = "LONG"
	StatePaused State = "PAUSED"
)

const (
	entryStopLossPct = 0.04 // stop_loss_price = price * (1 - 0.04)
	trailingStopPct  = 0.015
	trailingTriggerPct = 2.0
	antiChaseWindowSecs = 60
	antiChaseRisePct    = 2.0
)

// Decision is the outcome handle_bearish hands to the Monitor/Executor.
type Decision string

const (
	DecisionNone      Decision = "NONE"
	DecisionCloseAll  Decision = "CLOSE_ALL"
	DecisionCloseHalf Decision = "CLOSE_HALF"
)

// StopLossResult is check_stop_loss's outcome.
type StopLossResult string

const (
	StopLossOK        StopLossResult = "OK"
	StopLossTriggered StopLossResult = "TRIGGERED"
)

// Position is the single authoritative record (spec.md §3, invariants I1-I2).
type Position struct {
	State State

	// set when State == LONG
	EntryPrice       float64
	EntryTime        time.Time
	SizeFraction     float64
	Leverage         int
	StopLossPrice    float64
	TrailingEnabled  bool
	HighestProfitPct float64
	TradesExecuted   int
	LastTradeTime    time.Time

	// set when State == PAUSED
	PauseReason string
	PauseUntil  time.Time // zero means indefinite
}

// Transition records one state change for the in-memory append-only log
// (last 100 retained, persisted alongside the Position itself).
type Transition struct {
	At       time.Time
	From     State
	To       State
	Reason   string
}

// ShadowShortRecorder appends a paper SHORT record (spec.md §3's Shadow
// Short) without ever affecting execution.
type ShadowShortRecorder interface {
	RecordShadowShort(sig signal.Signal, entryPrice float64)
}

// Persister durably saves the machine's state on every mutation (spec.md
// §4.6). Implemented by internal/storage.StateStore.
type Persister interface {
	Save(snapshot PersistedState) error
}

// PersistedState is the exact shape written to the state file.
type PersistedState struct {
	Position    Position
	Transitions []Transition
	SavedAt     time.Time
}

// Machine guards the sole Position record with a mutex (SPEC_FULL.md §5).
type Machine struct {
	mu sync.Mutex

	pos         Position
	transitions []Transition

	priceRing  *pricering.Ring
	shadow     ShadowShortRecorder
	persist    Persister
}

// New builds a Machine starting FLAT, wired to the shared Price Ring for
// the anti-chase check and a ShadowShortRecorder/Persister.
func New(priceRing *pricering.Ring, shadow ShadowShortRecorder, persist Persister) *Machine {
	return &Machine{
		pos:       Position{State: StateFlat},
		priceRing: priceRing,
		shadow:    shadow,
		persist:   persist,
	}
}

// Restore replaces the machine's state with a previously persisted
// snapshot, used at supervisor boot (spec.md §4.6's "on start, the file is
// read and Position is restored").
func (m *Machine) Restore(snap PersistedState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = snap.Position
	m.transitions = snap.Transitions
}

// Snapshot returns a copy of the current Position.
func (m *Machine) Snapshot() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Transitions returns a copy of the retained transition log.
func (m *Machine) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

func (m *Machine) recordTransitionLocked(from, to State, reason string, now time.Time) {
	m.transitions = append(m.transitions, Transition{At: now, From: from, To: to, Reason: reason})
	if len(m.transitions) > 100 {
		m.transitions = m.transitions[len(m.transitions)-100:]
	}
}

func (m *Machine) persistLocked() {
	if m.persist == nil {
		return
	}
	snap := PersistedState{
		Position:    m.pos,
		Transitions: append([]Transition(nil), m.transitions...),
		SavedAt:     time.Now(),
	}
	if err := m.persist.Save(snap); err != nil {
		logging.Error("position state persist failed", "error", err)
	}
}

// CanOpenLong reports whether open_long's precondition holds (spec.md §4.6).
func (m *Machine) CanOpenLong(price float64, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpenLongLocked(price, now)
}

func (m *Machine) canOpenLongLocked(price float64, now time.Time) (bool, string) {
	if m.pos.State == StateLong {
		return false, "already long"
	}
	if m.pos.State == StatePaused {
		return false, "paused"
	}
	if m.priceRing != nil {
		if risePct, ok := m.priceRing.MaxToMinRisePct(now, antiChaseWindowSecs); ok {
			if risePct >= antiChaseRisePct {
				return false, fmt.Sprintf("anti-chase: %.2f%% rise from window minimum", risePct)
			}
		}
	}
	return true, ""
}

// OpenLong transitions FLAT -> LONG (spec.md §4.6).
func (m *Machine) OpenLong(price float64, sig signal.Signal, sizeFraction float64, leverage int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok, reason := m.canOpenLongLocked(price, now); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, reason)
	}

	from := m.pos.State
	m.pos = Position{
		State:           StateLong,
		EntryPrice:      price,
		EntryTime:       now,
		SizeFraction:    sizeFraction,
		Leverage:        leverage,
		StopLossPrice:   price * (1 - entryStopLossPct),
		TrailingEnabled: false,
	}
	m.recordTransitionLocked(from, StateLong, "open_long", now)
	m.persistLocked()
	return nil
}

// CloseLong transitions LONG -> FLAT (spec.md §4.6).
func (m *Machine) CloseLong(price float64, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.State != StateLong {
		return fmt.Errorf("%w: not long", ErrInvalidTransition)
	}

	from := m.pos.State
	m.pos = Position{State: StateFlat}
	m.recordTransitionLocked(from, StateFlat, reason, now)
	m.persistLocked()
	return nil
}

// Pause transitions any state -> PAUSED. durationMs of 0 means indefinite.
func (m *Machine) Pause(reason string, durationMs int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.pos.State
	pauseUntil := time.Time{}
	if durationMs > 0 {
		pauseUntil = now.Add(time.Duration(durationMs) * time.Millisecond)
	}
	m.pos.State = StatePaused
	m.pos.PauseReason = reason
	m.pos.PauseUntil = pauseUntil
	m.recordTransitionLocked(from, StatePaused, reason, now)
	m.persistLocked()
}

// Resume transitions PAUSED -> FLAT, only once already flat of position.
func (m *Machine) Resume(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.State != StatePaused {
		return fmt.Errorf("%w: not paused", ErrInvalidTransition)
	}
	from := m.pos.State
	m.pos = Position{State: StateFlat}
	m.recordTransitionLocked(from, StateFlat, "resume", now)
	m.persistLocked()
	return nil
}

// Reset unconditionally forces FLAT — an emergency escape hatch.
func (m *Machine) Reset(reason string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.pos.State
	m.pos = Position{State: StateFlat}
	m.recordTransitionLocked(from, StateFlat, reason, now)
	m.persistLocked()
}

// HandleBearish implements spec.md §4.6's handle_bearish. When the machine
// is not LONG it always records a Shadow Short and returns NONE — a
// bearish signal never opens a real position.
func (m *Machine) HandleBearish(price float64, sig signal.Signal, isDualSignal bool, now time.Time) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.State != StateLong {
		if m.shadow != nil {
			m.shadow.RecordShadowShort(sig, price)
		}
		return DecisionNone
	}

	switch {
	case isDualSignal || sig.Confidence >= 90:
		return DecisionCloseAll
	case sig.Confidence >= 80:
		m.pos.StopLossPrice = m.pos.EntryPrice
		m.pos.SizeFraction *= 0.5
		m.persistLocked()
		return DecisionCloseHalf
	default:
		if m.shadow != nil {
			m.shadow.RecordShadowShort(sig, price)
		}
		return DecisionNone
	}
}

// CheckStopLoss implements spec.md §4.6's check_stop_loss.
func (m *Machine) CheckStopLoss(price float64) StopLossResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.State != StateLong {
		return StopLossOK
	}
	if price <= m.pos.StopLossPrice {
		return StopLossTriggered
	}

	profitPct := (price - m.pos.EntryPrice) / m.pos.EntryPrice * 100
	if profitPct > m.pos.HighestProfitPct {
		m.pos.HighestProfitPct = profitPct
	}
	if profitPct >= trailingTriggerPct {
		m.pos.TrailingEnabled = true
	}
	if m.pos.TrailingEnabled {
		newStop := price * (1 - trailingStopPct)
		if newStop > m.pos.StopLossPrice {
			m.pos.StopLossPrice = newStop
		}
	}
	return StopLossOK
}

// SyncWithExchange implements spec.md §4.6's sync_with_exchange.
func (m *Machine) SyncWithExchange(actualCount int, actualSideLong bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.pos.State == StateLong && actualCount == 0:
		from := m.pos.State
		m.pos = Position{State: StateFlat}
		m.recordTransitionLocked(from, StateFlat, "exchange reports flat", now)
		m.persistLocked()

	case m.pos.State == StateFlat && actualCount > 0 && actualSideLong:
		from := m.pos.State
		m.pos = Position{
			State:      StateLong,
			EntryPrice: 0,
			EntryTime:  now,
		}
		m.recordTransitionLocked(from, StateLong, "exchange reports open long, entry unknown", now)
		m.persistLocked()

	default:
		// no-op
	}
}
