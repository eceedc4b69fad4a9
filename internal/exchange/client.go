// Package exchange defines the venue-facing surface the core decision
// pipeline treats as an external collaborator (spec.md §1, §6): an
// HMAC-signed REST client in production, a deterministic mock for tests
// and dry-run. The core never reaches for net/http directly.
package exchange

import (
	"context"
	"errors"
)

// Side is a position or order direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideFlat  Side = "flat"
)

// MarginMode is the leverage mode tried in order during SetLeverage
// (spec.md §4.8: isolated, then cross, then cash).
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
	MarginCash     MarginMode = "cash"
)

// ErrMarginModeRejected signals the venue refused a margin mode; the
// executor tries the next fallback mode in the list.
var ErrMarginModeRejected = errors.New("exchange: margin mode rejected")

// InstrumentSpec is the contract-math reference data the Order Executor's
// sizing pipeline needs (spec.md §4.8).
type InstrumentSpec struct {
	Symbol       string
	ContractFace float64 // coins per contract
	LotSize      float64
	MinSize      float64
}

// Ticker is the current traded/mark price for the configured symbol.
type Ticker struct {
	Price float64
}

// PositionInfo reports the venue's view of the currently held position for
// reconciliation (spec.md §4.6's sync_with_exchange, §4.9).
type PositionInfo struct {
	Side      Side
	Contracts float64
}

// OrderResult is returned by order submission.
type OrderResult struct {
	OrderID      string
	FilledPrice  float64
	FilledQty    float64
}

// Client is the exchange capability surface the core consumes
// (SPEC_FULL.md §4.10); both HTTPClient and MockClient implement it.
type Client interface {
	GetInstrument(ctx context.Context, symbol string) (InstrumentSpec, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	// GetCandles returns the most recent 1-minute closes, oldest first.
	GetCandles(ctx context.Context, symbol string, limit int) ([]float64, error)
	GetPositions(ctx context.Context, symbol string) (PositionInfo, error)
	GetAccountBalance(ctx context.Context) (float64, error)

	// SetLeverage tries modes in order, returning the first one accepted.
	SetLeverage(ctx context.Context, symbol string, leverage int, modes []MarginMode) (MarginMode, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, contracts float64, reduceOnly bool) (OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, fraction float64) (OrderResult, error)
}
