package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/signal"
)

func testConfig() Config {
	return Config{
		MainConfidence:        50,
		ExceptionConfidence:   40,
		ExceptionConfirmRatio: 0.75,
		ExceptionMaxAgeSecs:   30,
	}
}

func allowedContext() mktcontext.Snapshot {
	return mktcontext.Snapshot{TradeAllowed: true, RiskMode: mktcontext.RiskNormal}
}

func TestGate1_MainChannelPasses(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindState, Confidence: 55, Price: 0.12,
		TimestampMs: now.UnixMilli(), TTLSeconds: 180,
	}
	f.heartbeat.OnValidSignal(now)

	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.True(t, ok, reason)
}

func TestGate1_MainChannelFailsLowConfidence(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindState, Confidence: 30, Price: 0.12,
		TimestampMs: now.UnixMilli(), TTLSeconds: 180,
	}
	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.False(t, ok)
	assert.Contains(t, reason, "gate1")
}

func TestGate1_ExceptionChannelPassesForConfirmedIceberg(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindIcebergConfirmed, Confidence: 45, ConfirmRatio: 0.8,
		Price: 0.12, TimestampMs: now.Add(-10 * time.Second).UnixMilli(), TTLSeconds: 60,
	}
	f.heartbeat.OnValidSignal(now)

	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.True(t, ok, reason)
}

func TestGate1_IcebergDetectedIgnoresExceptionChannel(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindIcebergDetected, Confidence: 45, ConfirmRatio: 0.9,
		Price: 0.12, TimestampMs: now.UnixMilli(), TTLSeconds: 45,
	}
	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.False(t, ok)
	assert.Contains(t, reason, "gate1")
}

func TestGate1_ExceptionChannelFailsWhenTooOld(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindIcebergConfirmed, Confidence: 45, ConfirmRatio: 0.9,
		Price: 0.12, TimestampMs: now.Add(-45 * time.Second).UnixMilli(), TTLSeconds: 60,
	}
	ok, _ := f.Evaluate(sig, now, allowedContext())
	assert.False(t, ok)
}

func TestGate2_FailsWithoutPrice(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindState, Confidence: 80, Price: 0,
		TimestampMs: now.UnixMilli(), TTLSeconds: 180,
	}
	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.False(t, ok)
	assert.Contains(t, reason, "gate2")
}

func TestGate3_FailsWhenTradeNotAllowed(t *testing.T) {
	f := New(testConfig(), NewHeartbeat(300, 60, time.Unix(0, 0)))
	now := time.Unix(1700000000, 0)

	sig := signal.Signal{
		Kind: signal.KindState, Confidence: 80, Price: 0.12,
		TimestampMs: now.UnixMilli(), TTLSeconds: 180,
	}
	ctx := mktcontext.Snapshot{TradeAllowed: false, RiskMode: mktcontext.RiskNormal}
	ok, reason := f.Evaluate(sig, now, ctx)
	assert.False(t, ok)
	assert.Contains(t, reason, "gate3")
}

func TestGate3_FailsWhenHeartbeatPaused(t *testing.T) {
	start := time.Unix(1700000000, 0)
	f := New(testConfig(), NewHeartbeat(300, 60, start))
	now := start.Add(400 * time.Second)

	sig := signal.Signal{
		Kind: signal.KindState, Confidence: 80, Price: 0.12,
		TimestampMs: now.UnixMilli(), TTLSeconds: 180,
	}
	ok, reason := f.Evaluate(sig, now, allowedContext())
	assert.False(t, ok)
	assert.Contains(t, reason, "heartbeat")
}
