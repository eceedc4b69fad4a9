// Package executor translates accepted decisions into sized market orders
// with exchange-side safety caps (spec.md §4.8). It is the ONLY component
// that issues exchange orders — every sizing, leverage, and hard-cap rule
// here is non-negotiable regardless of signal, context, or state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/exchange"
	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/signal"
)

// Action is the decision kind the Position State Machine / Monitor hands
// to the Executor.
type Action string

const (
	ActionOpenLong  Action = "OPEN_LONG"
	ActionCloseAll  Action = "CLOSE_ALL"
	ActionCloseHalf Action = "CLOSE_HALF"
)

// Decision is the executor's sole input shape (spec.md §4.8).
type Decision struct {
	Action        Action
	Signal        signal.Signal
	PositionPct   float64 // only meaningful for OPEN_LONG; recomputed internally otherwise
	Leverage      int
	Reason        string
}

// Config carries the hard caps and sizing anchors from config.HardCapsConfig
// plus the trial-start date from config.InstrumentConfig.
type Config struct {
	MaxNotionalUSD      float64
	MaxContracts        int
	MaxPositionPct      float64
	MinOrderNotionalUSD float64
	TrialStartDate      time.Time
	DefaultLeverage     int
}

// ErrBelowMinSize is returned when a reduce-only close would round to fewer
// than one contract; the caller should log and treat as a no-op, never a
// fatal error (spec.md §9, Open Question #2).
var ErrBelowMinSize = errors.New("executor: rounded size below instrument minimum")

// ErrNotionalTooSmall means the sized order, after the $50 clamp, would fall
// below the $5 floor before any contract rounding is attempted. Notional
// above the clamp is reduced to it, not rejected.
var ErrNotionalTooSmall = errors.New("executor: order notional outside [min, max] bounds")

// ErrHardCapExceeded means a fully-formed order breaches an absolute cap
// (contracts, notional, or position_pct) and was refused before submission.
var ErrHardCapExceeded = errors.New("executor: hard cap exceeded")

var marginModePriority = []exchange.MarginMode{exchange.MarginIsolated, exchange.MarginCross, exchange.MarginCash}

// intermediateNotionalCapUSD is the $50 hard clamp spec.md §4.8 applies to
// the computed order notional before contract math, distinct from the
// $100 final-notional cap checked after contract rounding.
const intermediateNotionalCapUSD = 50

// Executor wires a Client to the sizing/contract-math pipeline.
type Executor struct {
	client exchange.Client
	cfg    Config
	symbol string
}

// New builds an Executor bound to a Client and the configured symbol.
func New(client exchange.Client, cfg Config, symbol string) *Executor {
	return &Executor{client: client, cfg: cfg, symbol: symbol}
}

// Execute dispatches a Decision to the matching sizing/submission path.
func (e *Executor) Execute(ctx context.Context, d Decision, ctxSnap mktcontext.Snapshot, now time.Time) (exchange.OrderResult, float64, int, error) {
	switch d.Action {
	case ActionOpenLong:
		return e.openLong(ctx, d, ctxSnap, now)
	case ActionCloseAll:
		res, err := e.client.ClosePosition(ctx, e.symbol, 1.0)
		return res, 0, 0, err
	case ActionCloseHalf:
		res, err := e.closeHalf(ctx)
		return res, 0, 0, err
	default:
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: unknown action %q", d.Action)
	}
}

func (e *Executor) closeHalf(ctx context.Context) (exchange.OrderResult, error) {
	pos, err := e.client.GetPositions(ctx, e.symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	spec, err := e.client.GetInstrument(ctx, e.symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	half := roundDownToLot(pos.Contracts*0.5, spec.LotSize)
	if half < 1 {
		logging.Info("close_half below one contract, skipping", "contracts", half)
		return exchange.OrderResult{}, ErrBelowMinSize
	}
	return e.client.PlaceMarketOrder(ctx, e.symbol, oppositeSide(pos.Side), half, true)
}

// openLong implements spec.md §4.8's sizing, contract-math, and execution
// pipeline for OPEN_LONG decisions.
func (e *Executor) openLong(ctx context.Context, d Decision, ctxSnap mktcontext.Snapshot, now time.Time) (exchange.OrderResult, float64, int, error) {
	positionPct := e.sizePct(d.Signal, ctxSnap, now)

	equity, err := e.client.GetAccountBalance(ctx)
	if err != nil {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: account balance: %w", err)
	}

	notional := equity * positionPct / 100
	if notional > intermediateNotionalCapUSD {
		notional = intermediateNotionalCapUSD
	}
	if notional < e.cfg.MinOrderNotionalUSD {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("%w: notional %.2f below floor %.2f",
			ErrNotionalTooSmall, notional, e.cfg.MinOrderNotionalUSD)
	}

	ticker, err := e.client.GetTicker(ctx, e.symbol)
	if err != nil {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: ticker: %w", err)
	}
	spec, err := e.client.GetInstrument(ctx, e.symbol)
	if err != nil {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: instrument spec: %w", err)
	}

	coinCount := notional / ticker.Price
	rawContracts := coinCount / spec.ContractFace
	contracts := roundDownToLot(rawContracts, spec.LotSize)

	if contracts < spec.MinSize {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("%w: %.4f below instrument min %.4f",
			ErrBelowMinSize, contracts, spec.MinSize)
	}
	if contracts > float64(e.cfg.MaxContracts) {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("%w: %.4f contracts exceeds cap %d",
			ErrHardCapExceeded, contracts, e.cfg.MaxContracts)
	}
	finalNotional := contracts * spec.ContractFace * ticker.Price
	if finalNotional > e.cfg.MaxNotionalUSD {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("%w: notional %.2f exceeds cap %.2f",
			ErrHardCapExceeded, finalNotional, e.cfg.MaxNotionalUSD)
	}

	leverage := e.cfg.DefaultLeverage
	if ctxSnap.AllowedLeverageMax > 0 && leverage > ctxSnap.AllowedLeverageMax {
		leverage = ctxSnap.AllowedLeverageMax
	}
	mode, err := e.client.SetLeverage(ctx, e.symbol, leverage, marginModePriority)
	if err != nil {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: set leverage: %w", err)
	}
	logging.Debug("executor: leverage set", "mode", mode, "leverage", leverage)

	res, err := e.client.PlaceMarketOrder(ctx, e.symbol, exchange.SideLong, contracts, false)
	if err != nil {
		return exchange.OrderResult{}, 0, 0, fmt.Errorf("executor: place order: %w", err)
	}
	return res, positionPct / 100, leverage, nil
}

// sizePct implements spec.md §4.8's trial-day anchoring, K-God bonus, and
// Market Context position-cap clamp.
func (e *Executor) sizePct(sig signal.Signal, ctxSnap mktcontext.Snapshot, now time.Time) float64 {
	base := 3.0
	if !e.cfg.TrialStartDate.IsZero() {
		day := int(now.Sub(e.cfg.TrialStartDate).Hours()/24) + 1
		if day < 1 {
			day = 1
		}
		if day > 7 {
			day = 7
		}
		if day >= 4 {
			base = 4.0
		}
	}

	if sig.KGodStatus == signal.KGodNormal {
		base += 1.0
	}

	if base > 10 {
		base = 10
	}
	if ctxSnap.PositionCapPct > 0 && base > ctxSnap.PositionCapPct {
		base = ctxSnap.PositionCapPct
	}
	if base > e.cfg.MaxPositionPct {
		base = e.cfg.MaxPositionPct
	}
	return base
}

func roundDownToLot(v, lot float64) float64 {
	if lot <= 0 {
		return math.Floor(v)
	}
	return math.Floor(v/lot) * lot
}

func oppositeSide(s exchange.Side) exchange.Side {
	if s == exchange.SideShort {
		return exchange.SideLong
	}
	return exchange.SideShort
}
