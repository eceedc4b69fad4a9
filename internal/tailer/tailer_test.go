package tailer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doge-flow-trader/internal/signal"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReplay_SkipsRecordsOlderThanSixtySeconds(t *testing.T) {
	dir := t.TempDir()
	day := time.Now()
	path := filepath.Join(dir, day.Format("2006-01-02")+".jsonl")

	oldTs := time.Now().Add(-90 * time.Second).Unix()
	freshTs := time.Now().Add(-5 * time.Second).Unix()
	content := `{"symbol":"DOGE-USDT-SWAP","signal_type":"state","ts":` + itoa(oldTs) + `}
{"symbol":"DOGE-USDT-SWAP","signal_type":"state","ts":` + itoa(freshTs) + `}
`
	writeFile(t, path, content)

	out := make(chan signal.Raw, 10)
	tl := New(Paths{SignalsRoot: dir, EventsRoot: dir, Symbol: "DOGE-USDT-SWAP"}, out)

	f, _, err := tl.openAndReplay(path)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, out, 1)
	rec := <-out
	ts, _ := rec["ts"].(float64)
	assert.InDelta(t, float64(freshTs), ts, 1)
}

func TestParseLine_CountsMalformedLines(t *testing.T) {
	out := make(chan signal.Raw, 10)
	tl := New(Paths{}, out)

	_, ok := tl.parseLine([]byte("not json"))
	assert.False(t, ok)
	assert.Equal(t, 1, tl.MalformedCount())
}

func TestDrainCompleteLines_HoldsPartialTrailingLine(t *testing.T) {
	out := make(chan signal.Raw, 10)
	tl := New(Paths{}, out)

	buf := bytes.NewBufferString(`{"symbol":"DOGE-USDT-SWAP","signal_type":"state","ts":1}` + "\n" + `{"symbol":"DOGE`)
	tl.drainCompleteLines(buf)

	assert.Len(t, out, 1)
	assert.Equal(t, `{"symbol":"DOGE`, buf.String())
}

func TestPrimaryPath_UsesConfiguredRootAndDate(t *testing.T) {
	p := Paths{SignalsRoot: "/data/signals"}
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "/data/signals/2026-07-30.jsonl", p.PrimaryPath(day))
}

func TestLegacyPath_UsesSymbolAndDate(t *testing.T) {
	p := Paths{EventsRoot: "/data/events", Symbol: "DOGE-USDT-SWAP"}
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "/data/events/DOGE-USDT-SWAP_2026-07-30.jsonl", p.LegacyPath(day))
}

func TestRun_EmitsNewlyAppendedLines(t *testing.T) {
	dir := t.TempDir()
	day := time.Now()
	path := filepath.Join(dir, day.Format("2006-01-02")+".jsonl")
	writeFile(t, path, "")

	out := make(chan signal.Raw, 10)
	tl := New(Paths{SignalsRoot: dir, EventsRoot: dir, Symbol: "DOGE-USDT-SWAP"}, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"symbol":"DOGE-USDT-SWAP","signal_type":"state","ts":` + itoa(time.Now().Unix()) + `}` + "\n")
	require.NoError(t, err)
	f.Close()

	select {
	case rec := <-out:
		assert.Equal(t, "DOGE-USDT-SWAP", rec["symbol"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for tailed record")
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
