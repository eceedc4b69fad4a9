// Package observation implements the Observation Buffer (spec.md §4.7): a
// single-slot holding area that turns a gate-qualified LONG signal into an
// order only after price shows a rebound, filtering out falling-knife entries.
package observation

import (
	"sync"
	"time"

	"doge-flow-trader/internal/signal"
)

const reboundPct = 0.3

// Record is the buffer's sole occupant while it waits for confirmation.
type Record struct {
	Signal          signal.Signal
	TriggerPrice    float64
	LowestSeenPrice float64
	EnteredAt       time.Time
	ExpiresAt       time.Time
}

// Buffer holds at most one Record at a time (spec.md invariant I3: non-empty
// only while Position is FLAT — enforced by the caller, not this type).
type Buffer struct {
	mu  sync.Mutex
	rec *Record
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Install installs a new Record if the buffer is empty. Any incoming LONG
// signal while the buffer is occupied is discarded (spec.md §4.7) — Install
// reports false in that case and the caller does nothing further.
func (b *Buffer) Install(sig signal.Signal, triggerPrice float64, now time.Time, windowSecs int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rec != nil {
		return false
	}
	b.rec = &Record{
		Signal:          sig,
		TriggerPrice:    triggerPrice,
		LowestSeenPrice: triggerPrice,
		EnteredAt:       now,
		ExpiresAt:       now.Add(time.Duration(windowSecs) * time.Second),
	}
	return true
}

// Occupied reports whether a Record is currently buffered.
func (b *Buffer) Occupied() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec != nil
}

// Peek returns a copy of the current Record, if any.
func (b *Buffer) Peek() (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return Record{}, false
	}
	return *b.rec, true
}

// Clear empties the buffer unconditionally.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = nil
}

// TickResult reports the outcome of one 1 Hz evaluation.
type TickResult struct {
	Confirmed bool
	Expired   bool
	Record    Record
}

// Tick implements the 1 Hz evaluation of spec.md §4.7: update the running
// minimum, check for a 0.3% rebound, confirm or expire.
func (b *Buffer) Tick(price float64, now time.Time) TickResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rec == nil {
		return TickResult{}
	}

	if price < b.rec.LowestSeenPrice {
		b.rec.LowestSeenPrice = price
	}

	rebound := (price - b.rec.LowestSeenPrice) / b.rec.LowestSeenPrice * 100
	if rebound >= reboundPct {
		rec := *b.rec
		b.rec = nil
		return TickResult{Confirmed: true, Record: rec}
	}

	if !now.Before(b.rec.ExpiresAt) {
		rec := *b.rec
		b.rec = nil
		return TickResult{Expired: true, Record: rec}
	}

	return TickResult{}
}
