package pricering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPush_EvictsOutsideRetentionWindow(t *testing.T) {
	r := New(nil)
	r.Push(0.10, 0)
	r.Push(0.11, 100_000)
	r.Push(0.12, 300_001) // evicts the first point (0 < cutoff 300_001-300_000)

	pts := r.Snapshot()
	assert.Len(t, pts, 2)
	assert.Equal(t, 0.11, pts[0].Price)
}

func TestLatest_ReturnsMostRecentPoint(t *testing.T) {
	r := New(nil)
	_, ok := r.Latest()
	assert.False(t, ok)

	r.Push(0.10, 0)
	r.Push(0.12, 1000)

	p, ok := r.Latest()
	assert.True(t, ok)
	assert.Equal(t, 0.12, p.Price)
}

func TestEMA20FromTicks_RequiresTwentySamples(t *testing.T) {
	r := New(nil)
	for i := 0; i < 19; i++ {
		r.Push(1.0, int64(i)*1000)
	}
	_, ok := r.EMA20(time.Unix(0, 0))
	assert.False(t, ok)

	r.Push(1.0, 19000)
	v, ok := r.EMA20(time.Unix(0, 0))
	assert.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestEMA20_SeededBySMAThenRolledForward(t *testing.T) {
	closes := make([]float64, 22)
	for i := range closes {
		closes[i] = 1.0
	}
	closes[20] = 2.0
	closes[21] = 2.0

	r := New(nil)
	for i, c := range closes {
		r.Push(c, int64(i)*1000)
	}
	v, ok := r.EMA20(time.Unix(0, 0))
	assert.True(t, ok)
	assert.Greater(t, v, 1.0)
	assert.Less(t, v, 2.0)
}

type fakeCandles struct {
	closes []float64
	err    error
}

func (f fakeCandles) Closes(limit int) ([]float64, error) {
	return f.closes, f.err
}

func TestEMA20_PrefersCandleSourceAndCaches(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 0.5
	}
	src := &fakeCandles{closes: closes}
	r := New(src)
	for i := 0; i < 20; i++ {
		r.Push(0.9, int64(i)*1000) // the tick fallback would give 0.9
	}

	now := time.Unix(1700000000, 0)
	v, ok := r.EMA20(now)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	// within the 10s cache window the candle value is reused even though
	// the source now has too few closes
	src.closes = nil
	v, ok = r.EMA20(now.Add(5 * time.Second))
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestEMA20_FallsBackToTicksWhenCandlesInsufficient(t *testing.T) {
	r := New(fakeCandles{closes: []float64{1, 2, 3}})
	for i := 0; i < 20; i++ {
		r.Push(0.9, int64(i)*1000)
	}
	v, ok := r.EMA20(time.Unix(0, 0))
	assert.True(t, ok)
	assert.InDelta(t, 0.9, v, 1e-9)
}

func TestSpeedDropPct_ComputesDropOverWindow(t *testing.T) {
	r := New(nil)
	r.Push(0.10, 0)
	r.Push(0.09, 60_000) // 60s later, 10% drop

	pct, ok := r.SpeedDropPct(time.UnixMilli(60_000), 60)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, pct, 1e-6)
}

func TestMaxToMinRisePct_ComputesRiseFromWindowMinimum(t *testing.T) {
	r := New(nil)
	r.Push(0.10, 0)
	r.Push(0.08, 10_000) // minimum
	r.Push(0.096, 60_000)

	pct, ok := r.MaxToMinRisePct(time.UnixMilli(60_000), 60)
	assert.True(t, ok)
	assert.InDelta(t, 20.0, pct, 1e-6)
}
