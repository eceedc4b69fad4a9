// Package circuit is a second, harder kill-switch layered above the
// Position State Machine's own gate 3 (risk_mode/heartbeat) check:
// consecutive-loss, hourly-loss, and daily-loss tripping, plus per-minute
// and daily trade-count limits. The supervisor's signal path consults it
// before installing a LONG signal into the Observation Buffer, and records
// bearish-driven closes into it. It never replaces a spec gate —
// it is an additional, independent layer.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"doge-flow-trader/internal/clockutil"
	"doge-flow-trader/internal/events"
)

// State is the breaker's current posture.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // trading halted
	StateHalfOpen State = "half_open" // testing recovery
)

// Config holds the breaker's thresholds (config.CircuitBreakerConfig maps
// onto this 1:1).
type Config struct {
	Enabled              bool
	MaxLossPerHour       float64 // % loss per rolling hour
	MaxConsecutiveLosses int
	CooldownMinutes      int
	MaxTradesPerMinute   int
	MaxDailyLoss         float64 // % loss per rolling day
	MaxDailyTrades       int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxLossPerHour:       3.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
		MaxTradesPerMinute:   10,
		MaxDailyLoss:         5.0,
		MaxDailyTrades:       100,
	}
}

// Breaker implements the trading circuit-breaker pattern.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	clock  clockutil.Clock
	bus    *events.Bus
	symbol string

	state             State
	consecutiveLosses int
	hourlyLoss        float64
	dailyLoss         float64
	tradesLastMinute  int
	dailyTrades       int
	lastTripTime      time.Time
	tripReason        string
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
	minuteResetTime   time.Time
}

// New builds a Breaker. bus may be nil (events are then not published).
func New(cfg Config, clock clockutil.Clock, bus *events.Bus, symbol string) *Breaker {
	now := clock.Now()
	return &Breaker{
		cfg:             cfg,
		clock:           clock,
		bus:             bus,
		symbol:          symbol,
		state:           StateClosed,
		hourlyResetTime: now.Add(time.Hour),
		dailyResetTime:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		minuteResetTime: now.Add(time.Minute),
	}
}

// CanTrade reports whether a new position may be opened right now.
func (b *Breaker) CanTrade() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetCountersIfNeeded()

	if b.state == StateOpen {
		elapsed := b.clock.Now().Sub(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.consecutiveLosses = 0
	}

	if b.hourlyLoss >= b.cfg.MaxLossPerHour {
		return false, fmt.Sprintf("hourly loss limit reached: %.2f%% >= %.2f%%", b.hourlyLoss, b.cfg.MaxLossPerHour)
	}
	if b.dailyLoss >= b.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%", b.dailyLoss, b.cfg.MaxDailyLoss)
	}
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", b.consecutiveLosses)
	}
	if b.tradesLastMinute >= b.cfg.MaxTradesPerMinute {
		return false, fmt.Sprintf("rate limit reached: %d trades/minute", b.tradesLastMinute)
	}
	if b.dailyTrades >= b.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached: %d trades", b.dailyTrades)
	}

	return true, ""
}

// RecordTrade records a closed trade's realized P&L percentage (negative for
// a loss) and trips the breaker if a threshold is now exceeded.
func (b *Breaker) RecordTrade(pnlPercent float64) {
	if !b.cfg.Enabled || math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	b.mu.Lock()
	b.resetCountersIfNeeded()

	b.tradesLastMinute++
	b.dailyTrades++

	recovered := false
	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.hourlyLoss += -pnlPercent
		b.dailyLoss += -pnlPercent
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			recovered = true
		}
	}

	var reason string
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses)
	} else if b.hourlyLoss >= b.cfg.MaxLossPerHour {
		reason = fmt.Sprintf("hourly loss: %.2f%%", b.hourlyLoss)
	} else if b.dailyLoss >= b.cfg.MaxDailyLoss {
		reason = fmt.Sprintf("daily loss: %.2f%%", b.dailyLoss)
	}
	if reason != "" {
		b.state = StateOpen
		b.lastTripTime = b.clock.Now()
		b.tripReason = reason
	}
	b.mu.Unlock()

	if recovered && b.bus != nil {
		b.bus.PublishCircuitReset(b.symbol)
	}
	if reason != "" && b.bus != nil {
		b.bus.PublishCircuitTripped(b.symbol, reason)
	}
}

// ForceReset manually closes the breaker (operator override).
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.PublishCircuitReset(b.symbol)
	}
}

func (b *Breaker) resetCountersIfNeeded() {
	now := b.clock.Now()

	if now.After(b.minuteResetTime) {
		b.tradesLastMinute = 0
		b.minuteResetTime = now.Add(time.Minute)
	}
	if now.After(b.hourlyResetTime) {
		b.hourlyLoss = 0
		b.hourlyResetTime = now.Add(time.Hour)
	}
	if now.After(b.dailyResetTime) {
		b.dailyLoss = 0
		b.dailyTrades = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// State returns the breaker's current posture.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for the status surface.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"state":              string(b.state),
		"consecutive_losses": b.consecutiveLosses,
		"hourly_loss":        b.hourlyLoss,
		"daily_loss":         b.dailyLoss,
		"trades_last_minute": b.tradesLastMinute,
		"daily_trades":       b.dailyTrades,
		"trip_reason":        b.tripReason,
		"last_trip_time":     b.lastTripTime,
	}
}
