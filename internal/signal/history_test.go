package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistory_HasDualSignal_RequiresBothKindsSameDirectionInWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHistory()

	h.Record(Signal{Kind: KindIcebergConfirmed, Direction: DirectionShort, Confidence: 60}, now)
	assert.False(t, h.HasDualSignal(DirectionShort, now, 60, 50))

	h.Record(Signal{Kind: KindState, Direction: DirectionShort, Confidence: 55}, now.Add(30*time.Second))
	assert.True(t, h.HasDualSignal(DirectionShort, now.Add(30*time.Second), 60, 50))
}

func TestHistory_HasDualSignal_IgnoresOppositeDirection(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHistory()
	h.Record(Signal{Kind: KindIcebergConfirmed, Direction: DirectionLong, Confidence: 80}, now)
	h.Record(Signal{Kind: KindState, Direction: DirectionLong, Confidence: 80}, now)

	assert.False(t, h.HasDualSignal(DirectionShort, now, 60, 50))
}

func TestHistory_HasDualSignal_IgnoresLowConfidence(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHistory()
	h.Record(Signal{Kind: KindIcebergConfirmed, Direction: DirectionShort, Confidence: 40}, now)
	h.Record(Signal{Kind: KindState, Direction: DirectionShort, Confidence: 40}, now)

	assert.False(t, h.HasDualSignal(DirectionShort, now, 60, 50))
}

func TestHistory_HasDualSignal_ExpiresOutsideWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHistory()
	h.Record(Signal{Kind: KindIcebergConfirmed, Direction: DirectionShort, Confidence: 80}, now)
	h.Record(Signal{Kind: KindState, Direction: DirectionShort, Confidence: 80}, now.Add(90*time.Second))

	assert.False(t, h.HasDualSignal(DirectionShort, now.Add(90*time.Second), 60, 50))
}

func TestHistory_RecordWrapsAtCapacity(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h := NewHistory()
	for i := 0; i < historyCapacity+10; i++ {
		h.Record(Signal{Kind: KindState, Direction: DirectionLong, Confidence: 10}, now)
	}
	assert.Equal(t, historyCapacity, h.size)
}
