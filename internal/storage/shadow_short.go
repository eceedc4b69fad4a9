package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"doge-flow-trader/internal/signal"
)

// ShadowShortRecord is the append-only paper-trade record produced when a
// SHORT signal arrives while FLAT or PAUSED (spec.md §3). It never affects
// execution.
type ShadowShortRecord struct {
	SignalSnapshot  signal.Signal
	EntryPrice      float64
	SimulatedPnLPct float64
	RecordedAt      time.Time
}

// ShadowShortLog appends records to a .jsonl file, never truncating or
// rewriting prior entries.
type ShadowShortLog struct {
	mu   sync.Mutex
	path string
}

// NewShadowShortLog builds a ShadowShortLog rooted at dir/shadow_shorts.jsonl.
func NewShadowShortLog(dir string) *ShadowShortLog {
	return &ShadowShortLog{path: filepath.Join(dir, "shadow_shorts.jsonl")}
}

// RecordShadowShort implements position.ShadowShortRecorder. It appends one
// record per call with SimulatedPnLPct left at zero; no later price
// checkpoints are recorded and the simulated P&L is never updated. The
// record is paper-only and never affects execution.
func (l *ShadowShortLog) RecordShadowShort(sig signal.Signal, entryPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := ShadowShortRecord{
		SignalSnapshot: sig,
		EntryPrice:     entryPrice,
		RecordedAt:     time.Now(),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "shadow-short log write failed: %v\n", err)
	}
}
