package cachekv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetEMA20_RoundTripsInMemoryWhenRedisUnavailable(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	s.SetEMA20(ctx, "DOGE-USDT-SWAP", 0.1234)

	v, ok := s.EMA20(ctx, "DOGE-USDT-SWAP")
	assert.True(t, ok)
	assert.Equal(t, 0.1234, v)
	assert.False(t, s.Available())
}

func TestEMA20_MissingSymbolReturnsFalse(t *testing.T) {
	s := New(nil)
	_, ok := s.EMA20(context.Background(), "UNKNOWN")
	assert.False(t, ok)
}

func TestSetPosition_RoundTripsInMemoryWhenRedisUnavailable(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	s.SetPosition(ctx, "DOGE-USDT-SWAP", PositionSnapshot{State: "long", EntryPrice: 0.12})

	snap, ok := s.Position(ctx, "DOGE-USDT-SWAP")
	assert.True(t, ok)
	assert.Equal(t, "long", snap.State)
	assert.Equal(t, 0.12, snap.EntryPrice)
}

func TestPosition_MissingSymbolReturnsFalse(t *testing.T) {
	s := New(nil)
	_, ok := s.Position(context.Background(), "UNKNOWN")
	assert.False(t, ok)
}
