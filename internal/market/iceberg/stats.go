// Package iceberg maintains the rolling 5-minute buy/sell confirmed/detected
// iceberg counters used to compute the confirm-ratio gate input (spec.md §3, §4.4).
package iceberg

import (
	"sync"
	"time"

	"doge-flow-trader/internal/signal"
)

const windowSecs = 300

// Stats is written and read only by the decision task (SPEC_FULL.md §5),
// so a plain mutex (not an atomic snapshot) is sufficient.
type Stats struct {
	mu sync.Mutex

	buyConfirmed  int
	sellConfirmed int
	buyDetected   int
	sellDetected  int

	lastUpdated time.Time
}

// New creates an empty Stats window.
func New() *Stats {
	return &Stats{}
}

// Update increments the relevant counter for an iceberg-kind signal,
// resetting the whole window first if it has elapsed since lastUpdated.
func (s *Stats) Update(sig signal.Signal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetIfElapsedLocked(now)
	s.lastUpdated = now

	confirmed := sig.Kind == signal.KindIcebergConfirmed
	switch sig.Direction {
	case signal.DirectionLong:
		if confirmed {
			s.buyConfirmed++
		} else {
			s.buyDetected++
		}
	case signal.DirectionShort:
		if confirmed {
			s.sellConfirmed++
		} else {
			s.sellDetected++
		}
	}
}

func (s *Stats) resetIfElapsedLocked(now time.Time) {
	if s.lastUpdated.IsZero() {
		return
	}
	if now.Sub(s.lastUpdated) > windowSecs*time.Second {
		s.buyConfirmed, s.sellConfirmed, s.buyDetected, s.sellDetected = 0, 0, 0, 0
	}
}

// ConfirmRatio returns buy_confirmed/(buy_confirmed+sell_confirmed), with a
// neutral default of 0.5 when the denominator is zero (spec.md §3).
func (s *Stats) ConfirmRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.buyConfirmed + s.sellConfirmed
	if total == 0 {
		return 0.5
	}
	return float64(s.buyConfirmed) / float64(total)
}

// Snapshot returns the four raw counters, mostly for diagnostics/status.
func (s *Stats) Snapshot() (buyConfirmed, sellConfirmed, buyDetected, sellDetected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buyConfirmed, s.sellConfirmed, s.buyDetected, s.sellDetected
}
