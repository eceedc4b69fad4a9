package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/signal"
)

type fakeShadowRecorder struct {
	records []signal.Signal
}

func (f *fakeShadowRecorder) RecordShadowShort(sig signal.Signal, entryPrice float64) {
	f.records = append(f.records, sig)
}

type fakePersister struct {
	saves int
}

func (f *fakePersister) Save(snap PersistedState) error {
	f.saves++
	return nil
}

func TestOpenLong_SetsStopLossAtFourPercentBelowEntry(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)

	err := m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now)
	require.NoError(t, err)

	pos := m.Snapshot()
	assert.Equal(t, StateLong, pos.State)
	assert.InDelta(t, 0.12288, pos.StopLossPrice, 1e-9)
}

func TestOpenLong_FailsWhenAlreadyLong(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	err := m.OpenLong(0.13, signal.Signal{}, 0.04, 5, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCanOpenLong_RejectsOnAntiChase(t *testing.T) {
	ring := pricering.New(nil)
	now := time.Unix(1700000000, 0)
	ring.Push(0.10, now.Add(-30*time.Second).UnixMilli())
	ring.Push(0.103, now.UnixMilli()) // 3% rise from minimum

	m := New(ring, &fakeShadowRecorder{}, &fakePersister{})
	ok, reason := m.CanOpenLong(0.103, now)
	assert.False(t, ok)
	assert.Contains(t, reason, "anti-chase")
}

func TestCanOpenLong_AllowsBelowAntiChaseThreshold(t *testing.T) {
	ring := pricering.New(nil)
	now := time.Unix(1700000000, 0)
	ring.Push(0.10, now.Add(-30*time.Second).UnixMilli())
	ring.Push(0.101, now.UnixMilli()) // 1% rise

	m := New(ring, &fakeShadowRecorder{}, &fakePersister{})
	ok, _ := m.CanOpenLong(0.101, now)
	assert.True(t, ok)
}

func TestHandleBearish_WhileFlat_RecordsShadowShortAndReturnsNone(t *testing.T) {
	shadow := &fakeShadowRecorder{}
	m := New(pricering.New(nil), shadow, &fakePersister{})
	now := time.Unix(1700000000, 0)

	decision := m.HandleBearish(0.12, signal.Signal{Confidence: 95}, false, now)
	assert.Equal(t, DecisionNone, decision)
	assert.Len(t, shadow.records, 1)
	assert.Equal(t, StateFlat, m.Snapshot().State)
}

func TestHandleBearish_WhileLong_DualSignalClosesAll(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	decision := m.HandleBearish(0.125, signal.Signal{Confidence: 60}, true, now)
	assert.Equal(t, DecisionCloseAll, decision)
}

func TestHandleBearish_WhileLong_HighConfidenceClosesAll(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	decision := m.HandleBearish(0.125, signal.Signal{Confidence: 92}, false, now)
	assert.Equal(t, DecisionCloseAll, decision)
}

func TestHandleBearish_WhileLong_ModerateConfidenceClosesHalfAndSetsBreakeven(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	decision := m.HandleBearish(0.125, signal.Signal{Confidence: 82}, false, now)
	assert.Equal(t, DecisionCloseHalf, decision)

	pos := m.Snapshot()
	assert.InDelta(t, 0.128, pos.StopLossPrice, 1e-9)
	assert.InDelta(t, 0.02, pos.SizeFraction, 1e-9)
}

func TestHandleBearish_WhileLong_LowConfidenceRecordsShadowOnly(t *testing.T) {
	shadow := &fakeShadowRecorder{}
	m := New(pricering.New(nil), shadow, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	decision := m.HandleBearish(0.125, signal.Signal{Confidence: 60}, false, now)
	assert.Equal(t, DecisionNone, decision)
	assert.Len(t, shadow.records, 1)
	assert.Equal(t, StateLong, m.Snapshot().State) // handle_bearish never itself closes
}

func TestCheckStopLoss_TriggersAtOrBelowStop(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now)) // stop=0.12288

	assert.Equal(t, StopLossTriggered, m.CheckStopLoss(0.12287))
}

func TestCheckStopLoss_ActivatesTrailingAndRaisesStop(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	// profit = (0.13069-0.128)/0.128*100 ≈ 2.101% >= 2.0 trigger
	assert.Equal(t, StopLossOK, m.CheckStopLoss(0.13069))
	pos := m.Snapshot()
	assert.True(t, pos.TrailingEnabled)
	assert.InDelta(t, 0.13069*(1-0.015), pos.StopLossPrice, 1e-6)

	assert.Equal(t, StopLossTriggered, m.CheckStopLoss(0.12870))
}

func TestCheckStopLoss_NeverLowersAnExistingTrailingStop(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	m.CheckStopLoss(0.135)
	highStop := m.Snapshot().StopLossPrice

	m.CheckStopLoss(0.130) // still a profit (≈1.56%, below the trigger, trailing stays on) with a lower trailing target
	assert.Equal(t, highStop, m.Snapshot().StopLossPrice)
}

func TestSyncWithExchange_ResetsToFlatWhenExchangeReportsFlat(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	m.SyncWithExchange(0, false, now)

	pos := m.Snapshot()
	assert.Equal(t, StateFlat, pos.State)
	transitions := m.Transitions()
	assert.Equal(t, "exchange reports flat", transitions[len(transitions)-1].Reason)
}

func TestSyncWithExchange_AdoptsUnknownLongPosition(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)

	m.SyncWithExchange(1, true, now)

	pos := m.Snapshot()
	assert.Equal(t, StateLong, pos.State)
	assert.Equal(t, 0.0, pos.EntryPrice)
}

func TestPauseThenResume(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)

	m.Pause("manual", 0, now)
	assert.Equal(t, StatePaused, m.Snapshot().State)

	err := m.Resume(now)
	require.NoError(t, err)
	assert.Equal(t, StateFlat, m.Snapshot().State)
}

func TestResume_FailsWhenNotPaused(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	err := m.Resume(time.Unix(1700000000, 0))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReset_ForcesFlatFromAnyState(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)
	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))

	m.Reset("emergency", now)
	assert.Equal(t, StateFlat, m.Snapshot().State)
}

func TestTransitionLog_RetainsAtMostOneHundred(t *testing.T) {
	m := New(pricering.New(nil), &fakeShadowRecorder{}, &fakePersister{})
	now := time.Unix(1700000000, 0)

	for i := 0; i < 150; i++ {
		m.Pause("cycle", 0, now)
		m.Resume(now)
	}
	assert.LessOrEqual(t, len(m.Transitions()), 100)
}

func TestEveryMutation_Persists(t *testing.T) {
	persist := &fakePersister{}
	m := New(pricering.New(nil), &fakeShadowRecorder{}, persist)
	now := time.Unix(1700000000, 0)

	require.NoError(t, m.OpenLong(0.128, signal.Signal{}, 0.04, 5, now))
	require.NoError(t, m.CloseLong(0.13, "manual close", now))

	assert.Equal(t, 2, persist.saves)
}
