package signal

import "time"

// historyCapacity bounds the recent-signal ring buffer (spec.md §9: "a
// bounded ring buffer of recent signals, capacity ≈ 64").
const historyCapacity = 64

// History is a fixed-capacity ring buffer of recently normalized signals,
// scanned on each incoming bearish signal to detect a same-direction
// ICEBERG_CONFIRMED + STATE pair (spec.md §4.6, §9, glossary "Dual signal").
type History struct {
	entries [historyCapacity]Signal
	seenAt  [historyCapacity]time.Time
	next    int
	size    int
}

// NewHistory returns an empty ring buffer.
func NewHistory() *History {
	return &History{}
}

// Record appends sig to the buffer, overwriting the oldest entry once full.
func (h *History) Record(sig Signal, now time.Time) {
	h.entries[h.next] = sig
	h.seenAt[h.next] = now
	h.next = (h.next + 1) % historyCapacity
	if h.size < historyCapacity {
		h.size++
	}
}

// HasDualSignal reports whether the buffer contains both an
// ICEBERG_CONFIRMED and a STATE signal of direction, each with confidence
// >= minConfidence, seen within windowSecs of now.
func (h *History) HasDualSignal(direction Direction, now time.Time, windowSecs int, minConfidence float64) bool {
	window := time.Duration(windowSecs) * time.Second
	var sawIceberg, sawState bool
	for i := 0; i < h.size; i++ {
		s := h.entries[i]
		if s.Direction != direction || s.Confidence < minConfidence {
			continue
		}
		if now.Sub(h.seenAt[i]) > window {
			continue
		}
		switch s.Kind {
		case KindIcebergConfirmed:
			sawIceberg = true
		case KindState:
			sawState = true
		}
		if sawIceberg && sawState {
			return true
		}
	}
	return false
}
