// Package pricering maintains the ~5-minute rolling price series the
// decision pipeline uses to derive EMA20 and short-window speed statistics
// (spec.md §4.3).
package pricering

import (
	"sync"
	"time"
)

const retentionMs = 300_000

// Point is a single (price, timestamp) sample.
type Point struct {
	Price       float64
	TimestampMs int64
}

// CandleSource supplies a 1-minute candle close series from the exchange,
// used to compute EMA20 against real OHLC data instead of raw tick prices.
type CandleSource interface {
	// Closes returns the most recent closes, oldest first.
	Closes(limit int) ([]float64, error)
}

// Ring is written by the monitor task (ticker prices) and the signal
// pipeline (signal prices), and read by the decision and observation
// tasks; its own locking guards every access without a higher-level lock
// hierarchy.
type Ring struct {
	mu     sync.RWMutex
	points []Point

	candles CandleSource

	emaCacheMu       sync.Mutex
	emaCacheValue    float64
	emaCacheOK       bool
	emaCacheExpiry   time.Time
}

// New creates an empty Ring. candles may be nil, in which case ema20 falls
// back to the ring's own tick samples.
func New(candles CandleSource) *Ring {
	return &Ring{candles: candles}
}

// Push appends a sample and evicts points older than the 5-minute window.
func (r *Ring) Push(price float64, tMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.points = append(r.points, Point{Price: price, TimestampMs: tMs})
	r.evictLocked(tMs)
}

func (r *Ring) evictLocked(nowMs int64) {
	cutoff := nowMs - retentionMs
	i := 0
	for i < len(r.points) && r.points[i].TimestampMs < cutoff {
		i++
	}
	if i > 0 {
		r.points = append([]Point(nil), r.points[i:]...)
	}
}

// Snapshot returns a copy of the current in-window points, oldest first.
func (r *Ring) Snapshot() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Point, len(r.points))
	copy(out, r.points)
	return out
}

// Latest returns the most recent sample, if any.
func (r *Ring) Latest() (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return Point{}, false
	}
	return r.points[len(r.points)-1], true
}

// EMA20 computes the 20-period EMA, preferring a 1-minute candle series
// from the exchange (cached 10s) and falling back to the ring's own tick
// samples when the candle source is unavailable or has fewer than 20 closes.
func (r *Ring) EMA20(now time.Time) (float64, bool) {
	if r.candles != nil {
		if v, ok := r.ema20FromCandles(now); ok {
			return v, true
		}
	}
	return r.ema20FromTicks()
}

func (r *Ring) ema20FromCandles(now time.Time) (float64, bool) {
	r.emaCacheMu.Lock()
	if r.emaCacheOK && now.Before(r.emaCacheExpiry) {
		v := r.emaCacheValue
		r.emaCacheMu.Unlock()
		return v, true
	}
	r.emaCacheMu.Unlock()

	closes, err := r.candles.Closes(25)
	if err != nil || len(closes) < 25 {
		return 0, false
	}

	ema := ema20(closes)

	r.emaCacheMu.Lock()
	r.emaCacheValue = ema
	r.emaCacheOK = true
	r.emaCacheExpiry = now.Add(10 * time.Second)
	r.emaCacheMu.Unlock()

	return ema, true
}

func (r *Ring) ema20FromTicks() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) < 20 {
		return 0, false
	}
	closes := make([]float64, len(r.points))
	for i, p := range r.points {
		closes[i] = p.Price
	}
	return ema20(closes), true
}

// ema20 computes a standard EMA with period 20 (multiplier 2/21), seeded by
// the SMA of the first 20 closes (oldest-first), then rolled forward over
// any remaining closes.
func ema20(closes []float64) float64 {
	seedLen := 20
	if len(closes) < seedLen {
		seedLen = len(closes)
	}
	var sum float64
	for i := 0; i < seedLen; i++ {
		sum += closes[i]
	}
	ema := sum / float64(seedLen)

	const multiplier = 2.0 / 21.0
	for i := seedLen; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema
}

// SpeedDropPct returns (old-current)/old*100 for the sample closest to
// now-windowS seconds ago, or false if no such sample exists.
func (r *Ring) SpeedDropPct(now time.Time, windowS int) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return 0, false
	}

	targetMs := now.UnixMilli() - int64(windowS)*1000
	current := r.points[len(r.points)-1].Price

	best, found := Point{}, false
	bestDelta := int64(1 << 62)
	for _, p := range r.points {
		delta := p.TimestampMs - targetMs
		if delta < 0 {
			delta = -delta
		}
		if delta < bestDelta {
			bestDelta = delta
			best = p
			found = true
		}
	}
	if !found || best.Price == 0 {
		return 0, false
	}
	return (best.Price - current) / best.Price * 100, true
}

// MaxToMinRisePct returns the percentage rise from the window's minimum
// price to the current price over the last windowS seconds — used by the
// Position State Machine's anti-chase check (spec.md §4.6).
func (r *Ring) MaxToMinRisePct(now time.Time, windowS int) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return 0, false
	}

	cutoff := now.UnixMilli() - int64(windowS)*1000
	min := r.points[len(r.points)-1].Price
	found := false
	for _, p := range r.points {
		if p.TimestampMs < cutoff {
			continue
		}
		found = true
		if p.Price < min {
			min = p.Price
		}
	}
	if !found || min <= 0 {
		return 0, false
	}
	current := r.points[len(r.points)-1].Price
	return (current - min) / min * 100, true
}
