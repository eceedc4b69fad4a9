package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doge-flow-trader/internal/clockutil"
)

func newTestBreaker(cfg Config, now time.Time) (*Breaker, *clockutil.Fake) {
	clock := clockutil.NewFake(now)
	return New(cfg, clock, nil, "DOGE-USDT-SWAP"), clock
}

func TestCanTrade_AllowsWhenDisabled(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: false}, time.Unix(1700000000, 0))
	ok, reason := b.CanTrade()
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestRecordTrade_TripsAfterMaxConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	b, _ := newTestBreaker(cfg, time.Unix(1700000000, 0))

	b.RecordTrade(-1.0)
	b.RecordTrade(-1.0)
	ok, _ := b.CanTrade()
	require.True(t, ok)

	b.RecordTrade(-1.0)
	ok, reason := b.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive losses")
}

func TestCanTrade_RemainsOpenDuringCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	cfg.CooldownMinutes = 30
	start := time.Unix(1700000000, 0)
	b, clock := newTestBreaker(cfg, start)

	b.RecordTrade(-1.0)
	ok, _ := b.CanTrade()
	assert.False(t, ok)

	clock.Advance(29 * time.Minute)
	ok, _ = b.CanTrade()
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	ok, _ = b.CanTrade()
	assert.True(t, ok)
}

func TestRecordTrade_WinResetsConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	// raise the loss limits so only the consecutive-loss rule is exercised
	cfg.MaxLossPerHour = 100
	cfg.MaxDailyLoss = 100
	b, _ := newTestBreaker(cfg, time.Unix(1700000000, 0))

	b.RecordTrade(-1.0)
	b.RecordTrade(-1.0)
	b.RecordTrade(2.0)

	b.RecordTrade(-1.0)
	b.RecordTrade(-1.0)
	ok, _ := b.CanTrade()
	assert.True(t, ok)
}

func TestForceReset_ClosesBreakerImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b, _ := newTestBreaker(cfg, time.Unix(1700000000, 0))

	b.RecordTrade(-1.0)
	ok, _ := b.CanTrade()
	require.False(t, ok)

	b.ForceReset()
	ok, _ = b.CanTrade()
	assert.True(t, ok)
}

func TestRecordTrade_IgnoresNaNAndInf(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b, _ := newTestBreaker(cfg, time.Unix(1700000000, 0))

	b.RecordTrade(1.0 / zero())
	b.RecordTrade(zero() / zero())
	ok, _ := b.CanTrade()
	assert.True(t, ok)
}

func zero() float64 { return 0 }
