// Package context maintains the periodically refreshed Market Context
// posture consulted by the gate's environment check and the position state
// machine (spec.md §3, §4.5).
package context

import (
	"sync/atomic"
	"time"
)

// TrendBias is the coarse market direction.
type TrendBias string

const (
	TrendBullish TrendBias = "bullish"
	TrendBearish TrendBias = "bearish"
	TrendNeutral TrendBias = "neutral"
)

// Regime classifies the current volatility/liquidity posture.
type Regime string

const (
	RegimeTrend  Regime = "trend"
	RegimeRange  Regime = "range"
	RegimeHighVol Regime = "high_vol"
	RegimeLowLiq Regime = "low_liq"
)

// RiskMode gates whether new entries are permitted at all.
type RiskMode string

const (
	RiskNormal   RiskMode = "normal"
	RiskCautious RiskMode = "cautious"
	RiskPaused   RiskMode = "paused"
)

// Snapshot is the atomic, immutable Market Context record (spec.md §3).
// A new Snapshot replaces the old one wholesale on each refresh; readers
// never see a partially updated view.
type Snapshot struct {
	TrendBias          TrendBias
	Regime             Regime
	RiskMode           RiskMode
	AllowedLeverageMax int // one of {2,3,5}
	PositionCapPct     float64
	TradeAllowed       bool
	EMATrend           float64
	RSI                float64
	UpdatedAt          time.Time
}

// Store publishes Market Context snapshots for lock-free concurrent reads
// (SPEC_FULL.md §5: atomic.Pointer[Snapshot], a deliberate deviation from
// the teacher's RWMutex-snapshot idiom used elsewhere in this repo).
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore seeds the store with a conservative default snapshot: no trading
// allowed until the first real refresh completes.
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(&Snapshot{
		TrendBias:          TrendNeutral,
		Regime:             RegimeRange,
		RiskMode:           RiskPaused,
		AllowedLeverageMax: 2,
		PositionCapPct:     0,
		TradeAllowed:       false,
	})
	return s
}

// Publish atomically replaces the current snapshot.
func (s *Store) Publish(snap Snapshot) {
	s.ptr.Store(&snap)
}

// Current returns the most recently published snapshot.
func (s *Store) Current() Snapshot {
	return *s.ptr.Load()
}
