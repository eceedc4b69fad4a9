package gate

import (
	"sync"
	"time"
)

// HeartbeatState tracks signal-source liveness (spec.md §4.5, Gate 3).
type HeartbeatState string

const (
	HeartbeatRunning  HeartbeatState = "RUNNING"
	HeartbeatPaused   HeartbeatState = "PAUSED"
	HeartbeatCooldown HeartbeatState = "COOLDOWN"
	HeartbeatError    HeartbeatState = "ERROR"
)

// Heartbeat derives RUNNING/PAUSED/COOLDOWN/ERROR from the cadence of
// incoming valid signals. Only RUNNING permits opening new positions.
type Heartbeat struct {
	mu sync.Mutex

	pauseAfter    time.Duration
	cooldownDur   time.Duration

	state          HeartbeatState
	lastSignalAt   time.Time
	flowStartedAt  time.Time
	consecutive    int
	cooldownUntil  time.Time
	lastEvalAt     time.Time
}

// NewHeartbeat builds a Heartbeat starting RUNNING, with the configured
// pause/cooldown windows (spec.md §4.5: ≥300s silence → PAUSED;
// ≥3 consecutive valid signals or ≥30s continuous flow → COOLDOWN(60s)).
func NewHeartbeat(pauseAfterSecs, cooldownSecs int, now time.Time) *Heartbeat {
	return &Heartbeat{
		pauseAfter:   time.Duration(pauseAfterSecs) * time.Second,
		cooldownDur:  time.Duration(cooldownSecs) * time.Second,
		state:        HeartbeatRunning,
		lastSignalAt: now,
		lastEvalAt:   now,
	}
}

// OnValidSignal records that a valid signal arrived at now, advancing the
// cooldown transition once the consecutive/continuous-flow condition fires.
func (h *Heartbeat) OnValidSignal(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.flowStartedAt.IsZero() || now.Sub(h.lastSignalAt) > h.pauseAfter {
		h.flowStartedAt = now
		h.consecutive = 0
	}
	h.consecutive++
	h.lastSignalAt = now

	if h.state == HeartbeatPaused || h.state == HeartbeatError {
		h.state = HeartbeatRunning
	}

	if h.state == HeartbeatRunning {
		if h.consecutive >= 3 || now.Sub(h.flowStartedAt) >= 30*time.Second {
			h.state = HeartbeatCooldown
			h.cooldownUntil = now.Add(h.cooldownDur)
		}
	}
}

// Tick re-evaluates time-driven transitions (pause-on-silence, cooldown
// expiry) independent of any signal arrival; call on every gate check.
func (h *Heartbeat) Tick(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastEvalAt = now

	if h.state != HeartbeatPaused && !h.lastSignalAt.IsZero() && now.Sub(h.lastSignalAt) >= h.pauseAfter {
		h.state = HeartbeatPaused
		return
	}

	if h.state == HeartbeatCooldown && !now.Before(h.cooldownUntil) {
		h.state = HeartbeatRunning
		h.consecutive = 0
		h.flowStartedAt = time.Time{}
	}
}

// MarkError forces the ERROR state (e.g. the tailer reports a fatal read
// failure); only a subsequent valid signal clears it.
func (h *Heartbeat) MarkError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = HeartbeatError
}

// State returns the current heartbeat state.
func (h *Heartbeat) State() HeartbeatState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PermitsOpen reports whether the current state allows opening positions.
func (h *Heartbeat) PermitsOpen() bool {
	return h.State() == HeartbeatRunning
}
