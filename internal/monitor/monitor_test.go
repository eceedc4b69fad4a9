package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doge-flow-trader/internal/clockutil"
	"doge-flow-trader/internal/exchange"
	"doge-flow-trader/internal/executor"
	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/position"
	"doge-flow-trader/internal/signal"
)

type fakeShadow struct{}

func (fakeShadow) RecordShadowShort(sig signal.Signal, entryPrice float64) {}

func newTestMonitor(mock *exchange.MockClient, pos *position.Machine, clock *clockutil.Fake) *Monitor {
	ring := pricering.New(nil)
	exec := executor.New(mock, executor.Config{
		MaxNotionalUSD: 100, MaxContracts: 50, MaxPositionPct: 10,
		MinOrderNotionalUSD: 5, DefaultLeverage: 5,
	}, "DOGE-USDT-SWAP")
	return New(mock, ring, pos, exec, "DOGE-USDT-SWAP", clock)
}

func TestTick_HardStopClosesPosition(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := clockutil.NewFake(now)
	ring := pricering.New(nil)
	pos := position.New(ring, fakeShadow{}, nil)
	require.NoError(t, pos.OpenLong(0.128, signal.Signal{}, 0.04, 5, now)) // stop=0.12288

	mock := exchange.NewMockClient()
	mock.Position = exchange.PositionInfo{Side: exchange.SideLong, Contracts: 31}
	mock.Price = 0.12280 // below stop

	m := newTestMonitor(mock, pos, clock)
	m.ring = ring
	m.tick(context.Background())

	assert.Equal(t, position.StateFlat, pos.Snapshot().State)
}

func TestTick_NoActionWhileProfitable(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := clockutil.NewFake(now)
	ring := pricering.New(nil)
	pos := position.New(ring, fakeShadow{}, nil)
	require.NoError(t, pos.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	mock := exchange.NewMockClient()
	mock.Position = exchange.PositionInfo{Side: exchange.SideLong, Contracts: 31}
	mock.Price = 0.129

	m := newTestMonitor(mock, pos, clock)
	m.ring = ring
	m.tick(context.Background())

	assert.Equal(t, position.StateLong, pos.Snapshot().State)
}

func TestTick_ReconcilesAfterInterval(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := clockutil.NewFake(now)
	ring := pricering.New(nil)
	pos := position.New(ring, fakeShadow{}, nil)
	require.NoError(t, pos.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	mock := exchange.NewMockClient()
	mock.Position = exchange.PositionInfo{Side: exchange.SideFlat} // exchange disagrees
	mock.Price = 0.129

	m := newTestMonitor(mock, pos, clock)
	m.ring = ring
	clock.Advance(61 * time.Second)
	m.tick(context.Background())

	assert.Equal(t, position.StateFlat, pos.Snapshot().State)
}

func TestAllowsBearishAction_SuppressesWithinAntiJitterWindow(t *testing.T) {
	entry := time.Unix(1700000000, 0)
	assert.False(t, AllowsBearishAction(entry, entry.Add(10*time.Second), 85))
	assert.True(t, AllowsBearishAction(entry, entry.Add(10*time.Second), 92))
	assert.True(t, AllowsBearishAction(entry, entry.Add(20*time.Second), 85))
}

func TestSpeedFilterBlocksEntry_AboveThreshold(t *testing.T) {
	ring := pricering.New(nil)
	now := time.Unix(1700000000, 0)
	ring.Push(0.10, now.Add(-60*time.Second).UnixMilli())
	ring.Push(0.098, now.UnixMilli()) // 2% drop

	assert.True(t, SpeedFilterBlocksEntry(ring, now))
}

func TestSpeedFilterBlocksEntry_BelowThreshold(t *testing.T) {
	ring := pricering.New(nil)
	now := time.Unix(1700000000, 0)
	ring.Push(0.10, now.Add(-60*time.Second).UnixMilli())
	ring.Push(0.0995, now.UnixMilli()) // 0.5% drop

	assert.False(t, SpeedFilterBlocksEntry(ring, now))
}
