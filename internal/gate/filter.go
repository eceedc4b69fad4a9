// Package gate implements the three-gate admission filter (spec.md §4.5):
// stateless signal validity, execution feasibility, and environment checks
// invoked on every incoming normalized signal.
package gate

import (
	"fmt"
	"time"

	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/signal"
)

// Config holds the gate's confidence/confirm-ratio thresholds (config.GateConfig).
type Config struct {
	MainConfidence        float64
	ExceptionConfidence   float64
	ExceptionConfirmRatio float64
	ExceptionMaxAgeSecs   int
}

// Filter evaluates the three gates against a Heartbeat and the current
// Market Context. It holds no position-specific state of its own.
type Filter struct {
	cfg       Config
	heartbeat *Heartbeat
}

// New builds a Filter bound to a Heartbeat instance.
func New(cfg Config, heartbeat *Heartbeat) *Filter {
	return &Filter{cfg: cfg, heartbeat: heartbeat}
}

// Evaluate runs gates 1-3 in order and returns (allowed, reason). reason is
// empty when allowed is true, and names the failing gate otherwise.
func (f *Filter) Evaluate(sig signal.Signal, now time.Time, ctx mktcontext.Snapshot) (bool, string) {
	if ok, reason := f.gate1Signal(sig, now); !ok {
		return false, reason
	}
	if ok, reason := f.gate2Execution(sig); !ok {
		return false, reason
	}
	if ok, reason := f.gate3Environment(ctx, now); !ok {
		return false, reason
	}
	return true, ""
}

// gate1Signal implements spec.md §4.5 Gate 1, including the exception
// channel and the kind-specific TTL bound.
func (f *Filter) gate1Signal(sig signal.Signal, now time.Time) (bool, string) {
	if sig.Expired(now.UnixMilli()) {
		return false, "gate1: signal expired (ttl exceeded)"
	}

	mainPass := sig.Confidence >= f.cfg.MainConfidence

	if sig.Kind == signal.KindIcebergDetected {
		// exception channel is CONFIRMED-only
		if !mainPass {
			return false, "gate1: iceberg_detected below main confidence threshold"
		}
		return true, ""
	}

	exceptionPass := sig.Kind == signal.KindIcebergConfirmed &&
		sig.Confidence >= f.cfg.ExceptionConfidence &&
		sig.ConfirmRatio > f.cfg.ExceptionConfirmRatio &&
		sig.AgeSeconds(now) < float64(f.cfg.ExceptionMaxAgeSecs)

	if !mainPass && !exceptionPass {
		return false, "gate1: fails both main and exception channels"
	}
	return true, ""
}

// gate2Execution is a reserved hook for order-book slippage/liquidity
// checks (spec.md §4.5); the baseline passes whenever a price exists.
func (f *Filter) gate2Execution(sig signal.Signal) (bool, string) {
	if sig.Price <= 0 {
		return false, "gate2: no price available"
	}
	return true, ""
}

// gate3Environment implements spec.md §4.5 Gate 3.
func (f *Filter) gate3Environment(ctx mktcontext.Snapshot, now time.Time) (bool, string) {
	if !ctx.TradeAllowed {
		return false, "gate3: market context trade_allowed=false"
	}
	if ctx.RiskMode == mktcontext.RiskPaused {
		return false, "gate3: risk_mode=paused"
	}
	f.heartbeat.Tick(now)
	if !f.heartbeat.PermitsOpen() {
		return false, fmt.Sprintf("gate3: heartbeat not RUNNING (state=%s)", f.heartbeat.State())
	}
	return true, ""
}
