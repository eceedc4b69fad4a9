// Package monitor runs the 5-second stop-loss / trailing-profit /
// anti-jitter / reconciliation loop (spec.md §4.9).
package monitor

import (
	"context"
	"time"

	"doge-flow-trader/internal/clockutil"
	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/exchange"
	"doge-flow-trader/internal/executor"
	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/position"
)

const (
	tickInterval          = 5 * time.Second
	reconcileInterval     = 60 * time.Second
	antiJitterWindowSecs  = 15
	antiJitterOverrideConf = 90.0
	speedDropWindowSecs    = 60
	speedDropMaxPct        = 1.5
)

// Monitor wires the shared Price Ring, Position State Machine, and
// exchange Client into the periodic loop.
type Monitor struct {
	client exchange.Client
	ring   *pricering.Ring
	pos    *position.Machine
	exec   *executor.Executor
	symbol string
	clock  clockutil.Clock

	lastReconcile time.Time
}

// New builds a Monitor.
func New(client exchange.Client, ring *pricering.Ring, pos *position.Machine, exec *executor.Executor, symbol string, clock clockutil.Clock) *Monitor {
	return &Monitor{client: client, ring: ring, pos: pos, exec: exec, symbol: symbol, clock: clock}
}

// Run blocks, ticking every 5 seconds until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := m.clock.Now()

	ticker, err := m.client.GetTicker(ctx, m.symbol)
	if err != nil {
		logging.Warn("monitor: ticker fetch failed", "error", err)
	} else {
		m.ring.Push(ticker.Price, now.UnixMilli())
		m.evaluateStop(ctx, ticker.Price, now)
	}

	if now.Sub(m.lastReconcile) >= reconcileInterval {
		m.reconcile(ctx, now)
	}
}

func (m *Monitor) evaluateStop(ctx context.Context, price float64, now time.Time) {
	snap := m.pos.Snapshot()
	if snap.State != position.StateLong || snap.EntryPrice <= 0 {
		return
	}

	if result := m.pos.CheckStopLoss(price); result == position.StopLossTriggered {
		reason := "hard stop"
		if snap.TrailingEnabled {
			reason = "trailing profit"
		}
		m.closeAll(ctx, reason, now)
	}
}

func (m *Monitor) closeAll(ctx context.Context, reason string, now time.Time) {
	d := executor.Decision{Action: executor.ActionCloseAll, Reason: reason}
	_, _, _, err := m.exec.Execute(ctx, d, mktcontext.Snapshot{}, now)
	if err != nil {
		logging.Error("monitor: close_all failed", "reason", reason, "error", err)
		return
	}
	if err := m.pos.CloseLong(0, reason, now); err != nil {
		logging.Error("monitor: position close_long after exchange fill failed", "error", err)
	}
	logging.Info("monitor: position closed", "reason", reason)
}

func (m *Monitor) reconcile(ctx context.Context, now time.Time) {
	pos, err := m.client.GetPositions(ctx, m.symbol)
	if err != nil {
		logging.Warn("monitor: reconciliation fetch failed", "error", err)
		return
	}
	m.pos.SyncWithExchange(int(pos.Contracts), pos.Side == exchange.SideLong, now)
	m.lastReconcile = now
}

// AllowsBearishAction implements spec.md §4.9's anti-jitter rule: a
// bearish-triggered CLOSE_ALL/CLOSE_HALF is suppressed within
// antiJitterWindowSecs of entry unless confidence >= 90.
func AllowsBearishAction(entryTime, now time.Time, confidence float64) bool {
	if confidence >= antiJitterOverrideConf {
		return true
	}
	return now.Sub(entryTime) >= antiJitterWindowSecs*time.Second
}

// SpeedFilterBlocksEntry implements spec.md §4.9's speed filter, consulted
// by the Executor path before an OPEN_LONG is finalized.
func SpeedFilterBlocksEntry(ring *pricering.Ring, now time.Time) bool {
	pct, ok := ring.SpeedDropPct(now, speedDropWindowSecs)
	if !ok {
		return false
	}
	return pct > speedDropMaxPct
}
