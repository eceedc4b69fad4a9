package context

import (
	"context"
	"time"

	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/market/pricering"
)

const refreshInterval = 15 * time.Minute

// CandleSource mirrors pricering.CandleSource so the refresher does not
// import the exchange package directly.
type CandleSource interface {
	Closes(limit int) ([]float64, error)
}

// Refresher recomputes and publishes a Market Context Snapshot on a
// 15-minute tick (spec.md §5's "Context task").
//
// The low-liquidity regime classification is intentionally never produced:
// the source system's low-liquidity-hours filter was disabled with a fix
// comment and left that way (spec.md §9, Open Question #1). RegimeLowLiq
// stays a defined enum value other components may reason about, but this
// refresher never selects it.
type Refresher struct {
	store   *Store
	candles CandleSource
	clock   interface{ Now() time.Time }
}

// NewRefresher wires a Store to a candle source and clock.
func NewRefresher(store *Store, candles CandleSource, clock interface{ Now() time.Time }) *Refresher {
	return &Refresher{store: store, candles: candles, clock: clock}
}

// Run blocks, refreshing on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshOnce()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce()
		}
	}
}

// RefreshNow forces an out-of-cadence recompute, used by the control
// surface's trigger-analysis command.
func (r *Refresher) RefreshNow() {
	r.refreshOnce()
}

func (r *Refresher) refreshOnce() {
	closes, err := r.candles.Closes(60)
	if err != nil || len(closes) < 20 {
		logging.Warn("market context refresh skipped, insufficient candle data", "error", err)
		return
	}

	ema := emaTrend(closes)
	rsi := rsi14(closes)
	last := closes[len(closes)-1]

	snap := Snapshot{
		TrendBias:          trendBiasFrom(last, ema),
		Regime:             regimeFrom(rsi),
		RiskMode:           riskModeFrom(rsi),
		AllowedLeverageMax: leverageCapFrom(rsi),
		PositionCapPct:     positionCapFrom(rsi),
		EMATrend:           ema,
		RSI:                rsi,
		UpdatedAt:          r.clock.Now(),
	}
	snap.TradeAllowed = snap.RiskMode != RiskPaused

	r.store.Publish(snap)
	logging.Debug("market context refreshed",
		"trend_bias", snap.TrendBias, "regime", snap.Regime, "risk_mode", snap.RiskMode)
}

func emaTrend(closes []float64) float64 {
	// Reuses the same seeded-SMA EMA20 construction as the price ring
	// (pricering.Ring.EMA20), applied here to 1-minute candle closes. The
	// closes are pushed 1s apart so all of them stay inside the ring's
	// 5-minute retention window.
	ring := pricering.New(nil)
	for i, c := range closes {
		ring.Push(c, int64(i)*1_000)
	}
	if v, ok := ring.EMA20(time.UnixMilli(int64(len(closes)-1) * 1_000)); ok {
		return v
	}
	return closes[len(closes)-1]
}

// rsi14 computes a standard 14-period RSI over the trailing closes.
func rsi14(closes []float64) float64 {
	const period = 14
	if len(closes) < period+1 {
		return 50
	}
	start := len(closes) - period - 1
	var gainSum, lossSum float64
	for i := start + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / period
	avgLoss := lossSum / period
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func trendBiasFrom(last, ema float64) TrendBias {
	switch {
	case last > ema*1.001:
		return TrendBullish
	case last < ema*0.999:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

func regimeFrom(rsi float64) Regime {
	switch {
	case rsi >= 70 || rsi <= 30:
		return RegimeHighVol
	case rsi > 55 || rsi < 45:
		return RegimeTrend
	default:
		return RegimeRange
	}
}

func riskModeFrom(rsi float64) RiskMode {
	switch {
	case rsi >= 80 || rsi <= 15:
		return RiskPaused
	case rsi >= 70 || rsi <= 25:
		return RiskCautious
	default:
		return RiskNormal
	}
}

func leverageCapFrom(rsi float64) int {
	switch {
	case rsi >= 70 || rsi <= 25:
		return 2
	case rsi >= 60 || rsi <= 35:
		return 3
	default:
		return 5
	}
}

func positionCapFrom(rsi float64) float64 {
	switch {
	case rsi >= 70 || rsi <= 25:
		return 3
	case rsi >= 60 || rsi <= 35:
		return 6
	default:
		return 10
	}
}
