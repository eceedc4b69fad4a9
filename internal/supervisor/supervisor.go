// Package supervisor owns the process boot sequence, goroutine
// orchestration, and clean shutdown for the trader: it restores the
// Position State Machine from disk, starts the tailer/normalizer/gate
// pipeline, the Market Context refresher, and the Monitor loop, and
// tears all of it down on context cancellation.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"doge-flow-trader/internal/apisurface"
	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/circuit"
	"doge-flow-trader/internal/events"
	"doge-flow-trader/internal/exchange"
	"doge-flow-trader/internal/executor"
	"doge-flow-trader/internal/gate"
	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/market/iceberg"
	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/monitor"
	"doge-flow-trader/internal/notify"
	"doge-flow-trader/internal/observation"
	"doge-flow-trader/internal/position"
	"doge-flow-trader/internal/signal"
	"doge-flow-trader/internal/storage"
	"doge-flow-trader/internal/tailer"
)

// autoresumeWindow bounds how stale a persisted "running" state may be
// before the supervisor refuses to silently resume trading on boot.
const autoresumeWindow = 24 * time.Hour

// dualSignalWindowSecs and dualSignalMinConfidence implement the glossary's
// "Dual signal" definition: an ICEBERG_CONFIRMED plus a STATE signal of the
// same direction within 60s, each at least 50 confidence.
const (
	dualSignalWindowSecs    = 60
	dualSignalMinConfidence = 50.0
)

// Deps are the fully-constructed components the supervisor orchestrates.
// Assembly (reading config.Config, resolving credentials, opening
// connections) happens in cmd/trader/main.go; the supervisor only
// sequences their lifecycles.
type Deps struct {
	Symbol      string
	Tailer      *tailer.Tailer
	RawCh       chan signal.Raw
	Heartbeat   *gate.Heartbeat
	Filter      *gate.Filter
	Iceberg     *iceberg.Stats
	ContextStore *mktcontext.Store
	Refresher   *mktcontext.Refresher
	Observation *observation.Buffer
	PriceRing   *pricering.Ring
	Position    *position.Machine
	Executor    *executor.Executor
	Monitor     *monitor.Monitor
	Breaker     *circuit.Breaker
	Bus         *events.Bus
	Notify      *notify.Manager
	StateStore  *storage.StateStore
	Client      exchange.Client
	Clock       interface{ Now() time.Time }
}

// Supervisor drives the signal pipeline and every background loop, and
// implements apisurface.Controller for the HTTP control surface.
type Supervisor struct {
	deps    Deps
	history *signal.History

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Supervisor around deps. Call Boot once before Run.
func New(deps Deps) *Supervisor {
	return &Supervisor{deps: deps, history: signal.NewHistory()}
}

// Boot restores persisted Position state and decides whether to
// autoresume: a position persisted LONG within the last 24h is trusted
// and restored as-is; anything older is treated with suspicion and the
// machine is force-reset to FLAT rather than silently resuming a trade
// that may no longer match exchange reality.
func (s *Supervisor) Boot(now time.Time) error {
	if s.deps.StateStore == nil {
		return nil
	}
	snap, found, err := s.deps.StateStore.Load()
	if err != nil {
		return fmt.Errorf("supervisor: load persisted state: %w", err)
	}
	if !found {
		return nil
	}

	s.deps.Position.Restore(snap)
	if snap.Position.State == "LONG" && now.Sub(snap.SavedAt) > autoresumeWindow {
		logging.Warn("persisted LONG position older than autoresume window, forcing flat", "age", now.Sub(snap.SavedAt).String())
		s.deps.Position.Reset("stale persisted state on boot", now)
	}
	return nil
}

// Run starts every background goroutine and blocks until ctx is
// cancelled, then waits for clean shutdown of all of them.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	if s.deps.Tailer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.deps.Tailer.Run(runCtx); err != nil && runCtx.Err() == nil {
				logging.Error("tailer exited", "error", err)
			}
		}()
	}

	if s.deps.Refresher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deps.Refresher.Run(runCtx)
		}()
	}

	if s.deps.Monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deps.Monitor.Run(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeSignals(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatTicker(runCtx)
	}()

	<-runCtx.Done()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// consumeSignals is the gate/observation/position/executor pipeline:
// every normalized, gate-qualified signal either installs into the
// Observation Buffer (spec.md §4.7) or drives handle_bearish directly.
func (s *Supervisor) consumeSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.deps.RawCh:
			if !ok {
				return
			}
			s.handleRaw(ctx, raw)
		}
	}
}

func (s *Supervisor) handleRaw(ctx context.Context, raw signal.Raw) {
	now := s.deps.Clock.Now()

	sig, ok := signal.Normalize(raw, s.deps.Symbol)
	if !ok {
		return
	}
	s.history.Record(sig, now)

	if s.deps.PriceRing != nil && sig.Price > 0 {
		s.deps.PriceRing.Push(sig.Price, sig.TimestampMs)
	}

	if sig.Kind == signal.KindIcebergConfirmed || sig.Kind == signal.KindIcebergDetected {
		s.deps.Iceberg.Update(sig, now)
	}

	s.deps.Heartbeat.OnValidSignal(now)

	ctxSnap := s.deps.ContextStore.Current()
	allowed, reason := s.deps.Filter.Evaluate(sig, now, ctxSnap)
	if !allowed {
		s.deps.Bus.PublishGateRejected(sig.Symbol, reason)
		return
	}

	if sig.Direction == signal.DirectionShort {
		s.handleBearish(ctx, sig, now)
		return
	}

	price := sig.Price
	canOpen, reason := s.deps.Position.CanOpenLong(price, now)
	if !canOpen {
		s.deps.Bus.PublishGateRejected(sig.Symbol, reason)
		return
	}
	if ok, reason := s.deps.Breaker.CanTrade(); !ok {
		s.deps.Bus.PublishGateRejected(sig.Symbol, "circuit: "+reason)
		return
	}

	if !s.deps.Observation.Install(sig, price, now, 120) {
		return
	}
	s.deps.Bus.PublishObservationConfirmed(sig.Symbol, price, price)
}

func (s *Supervisor) handleBearish(ctx context.Context, sig signal.Signal, now time.Time) {
	pos := s.deps.Position.Snapshot()
	if pos.State == position.StateLong && !monitor.AllowsBearishAction(pos.EntryTime, now, sig.Confidence) {
		return
	}

	isDual := s.history.HasDualSignal(sig.Direction, now, dualSignalWindowSecs, dualSignalMinConfidence)
	decision := s.deps.Position.HandleBearish(sig.Price, sig, isDual, now)
	if decision == position.DecisionNone {
		return
	}

	action := executor.ActionCloseHalf
	if decision == position.DecisionCloseAll {
		action = executor.ActionCloseAll
	}

	entryPrice := pos.EntryPrice

	d := executor.Decision{Action: action, Signal: sig, Reason: "handle_bearish"}
	ctxSnap := s.deps.ContextStore.Current()
	result, _, _, err := s.deps.Executor.Execute(ctx, d, ctxSnap, now)
	if err == executor.ErrBelowMinSize {
		logging.Info("close_half degraded to a no-op below one contract", "symbol", sig.Symbol)
		return
	}
	if err != nil {
		logging.Error("executor failed on bearish close", "error", err)
		return
	}

	if action == executor.ActionCloseAll {
		if err := s.deps.Position.CloseLong(result.FilledPrice, "handle_bearish", now); err != nil {
			logging.Error("position close_long after bearish fill failed", "error", err)
			return
		}
	}

	pnlPct := pnlPercent(entryPrice, result.FilledPrice)
	s.deps.Breaker.RecordTrade(pnlPct)
	s.deps.Bus.PublishPositionClosed(sig.Symbol, result.FilledPrice, pnlPct, string(action))
	if s.deps.Notify != nil {
		s.deps.Notify.PositionClosed(sig.Symbol, result.FilledPrice, pnlPct, string(action), now)
	}
}

func pnlPercent(entryPrice, exitPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	return (exitPrice - entryPrice) / entryPrice * 100
}

// heartbeatTicker runs at 1 Hz: it ticks the Heartbeat and the Observation
// Buffer, opening a long when the buffer confirms a rebound and clearing it
// on expiry.
func (s *Supervisor) heartbeatTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.deps.Clock.Now()
			s.deps.Heartbeat.Tick(now)

			rec, ok := s.deps.Observation.Peek()
			if !ok {
				continue
			}
			price := rec.TriggerPrice
			if s.deps.PriceRing != nil {
				if pt, ok := s.deps.PriceRing.Latest(); ok {
					price = pt.Price
				}
			}
			result := s.deps.Observation.Tick(price, now)
			if result.Confirmed {
				s.openConfirmed(ctx, rec, now)
			} else if result.Expired {
				s.deps.Observation.Clear()
			}
		}
	}
}

func (s *Supervisor) openConfirmed(ctx context.Context, rec observation.Record, now time.Time) {
	s.deps.Observation.Clear()

	if s.deps.PriceRing != nil && monitor.SpeedFilterBlocksEntry(s.deps.PriceRing, now) {
		s.deps.Bus.PublishGateRejected(rec.Signal.Symbol, "speed filter: price_ring speed_drop_pct(60) > 1.5")
		return
	}

	ctxSnap := s.deps.ContextStore.Current()
	d := executor.Decision{
		Action:   executor.ActionOpenLong,
		Signal:   rec.Signal,
		Leverage: ctxSnap.AllowedLeverageMax,
		Reason:   "observation confirmed",
	}
	result, sizeFraction, leverage, err := s.deps.Executor.Execute(ctx, d, ctxSnap, now)
	if err != nil {
		logging.Error("executor failed on open_long", "error", err)
		return
	}

	if err := s.deps.Position.OpenLong(result.FilledPrice, rec.Signal, sizeFraction, leverage, now); err != nil {
		logging.Error("position open_long rejected after fill", "error", err)
		return
	}

	s.deps.Bus.PublishPositionOpened(rec.Signal.Symbol, result.FilledPrice, sizeFraction, leverage)
	if s.deps.Notify != nil {
		s.deps.Notify.PositionOpened(rec.Signal.Symbol, result.FilledPrice, now)
	}
}

// Status implements apisurface.Controller.
func (s *Supervisor) Status() apisurface.StatusSnapshot {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	pos := s.deps.Position.Snapshot()

	snap := apisurface.StatusSnapshot{
		Symbol:        s.deps.Symbol,
		PositionState: string(pos.State),
		HeartbeatState: string(s.deps.Heartbeat.State()),
		CircuitState:  string(s.deps.Breaker.State()),
		EntryPrice:    pos.EntryPrice,
		SizeFraction:  pos.SizeFraction,
		Leverage:      pos.Leverage,
		Running:       running,
	}
	return snap
}

// Start implements apisurface.Controller: it resumes a PAUSED position.
func (s *Supervisor) Start() error {
	return s.deps.Position.Resume(s.deps.Clock.Now())
}

// Stop implements apisurface.Controller: it pauses trading indefinitely
// and closes any open position at market.
func (s *Supervisor) Stop(reason string) error {
	now := s.deps.Clock.Now()
	pos := s.deps.Position.Snapshot()
	if pos.State == "LONG" {
		d := executor.Decision{Action: executor.ActionCloseAll, Reason: reason}
		ctxSnap := s.deps.ContextStore.Current()
		result, _, _, err := s.deps.Executor.Execute(context.Background(), d, ctxSnap, now)
		if err != nil {
			return fmt.Errorf("supervisor: stop close_all: %w", err)
		}
		pnlPct := pnlPercent(pos.EntryPrice, result.FilledPrice)
		if err := s.deps.Position.CloseLong(result.FilledPrice, reason, now); err != nil {
			return err
		}
		s.deps.Bus.PublishPositionClosed(s.deps.Symbol, result.FilledPrice, pnlPct, reason)
	}
	s.deps.Position.Pause(reason, 0, now)
	if s.deps.Notify != nil {
		s.deps.Notify.Paused(s.deps.Symbol, reason, now)
	}
	return nil
}

// TriggerAnalysis implements apisurface.Controller: it forces a Market
// Context refresh outside its normal cadence.
func (s *Supervisor) TriggerAnalysis() error {
	if s.deps.Refresher == nil {
		return fmt.Errorf("supervisor: no refresher configured")
	}
	s.deps.Refresher.RefreshNow()
	return nil
}

// Shutdown cancels all goroutines started by Run and waits for them.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
