// Package tailer follows the append-only signal file shared with the flow
// radar producer (spec.md §4.1), emitting an ordered stream of raw record
// maps over a channel. It polls file size rather than using fsnotify/
// inotify, matching spec.md's explicit polling requirement.
package tailer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/signal"
)

const (
	pollInterval   = 1 * time.Second
	replayReadSize = 10 * 1024
	replayMaxAgeS  = 60
)

// Paths derives the day's signal file path and its legacy fallback.
type Paths struct {
	SignalsRoot string
	EventsRoot  string
	Symbol      string
}

// PrimaryPath is <signals_root>/<YYYY-MM-DD>.jsonl.
func (p Paths) PrimaryPath(day time.Time) string {
	return filepath.Join(p.SignalsRoot, day.Format("2006-01-02")+".jsonl")
}

// LegacyPath is <events_root>/<SYMBOL>_<YYYY-MM-DD>.jsonl.
func (p Paths) LegacyPath(day time.Time) string {
	return filepath.Join(p.EventsRoot, fmt.Sprintf("%s_%s.jsonl", p.Symbol, day.Format("2006-01-02")))
}

// Tailer polls one day-file at a time, advancing to the next day's file on
// wall-clock rollover.
type Tailer struct {
	paths Paths
	out   chan signal.Raw

	malformedCount int
}

// New builds a Tailer. out should be buffered (spec.md §5: capacity 256).
func New(paths Paths, out chan signal.Raw) *Tailer {
	return &Tailer{paths: paths, out: out}
}

// MalformedCount returns the number of dropped malformed lines seen so far.
func (t *Tailer) MalformedCount() int {
	return t.malformedCount
}

// Run blocks, tailing the signal file until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	day := time.Now()
	path, err := t.resolvePath(day)
	if err != nil {
		return err
	}

	f, offset, err := t.openAndReplay(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var partial bytes.Buffer
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rolled := time.Now()
			if rolled.Format("2006-01-02") != day.Format("2006-01-02") {
				f.Close()
				day = rolled
				newPath, err := t.resolvePath(day)
				if err != nil {
					logging.Error("tailer: resolve new day path failed", "error", err)
					continue
				}
				path = newPath
				newF, newOffset, err := t.openAndReplay(path)
				if err != nil {
					logging.Error("tailer: open new day file failed", "error", err)
					continue
				}
				f = newF
				offset = newOffset
				partial.Reset()
				continue
			}

			info, err := f.Stat()
			if err != nil {
				logging.Warn("tailer: stat failed", "error", err)
				continue
			}
			if info.Size() <= offset {
				continue
			}

			buf := make([]byte, info.Size()-offset)
			n, err := f.ReadAt(buf, offset)
			if err != nil && n == 0 {
				logging.Warn("tailer: read failed", "error", err)
				continue
			}
			offset += int64(n)

			partial.Write(buf[:n])
			t.drainCompleteLines(&partial)
		}
	}
}

// resolvePath picks the primary path if it exists, the legacy fallback
// otherwise. A compressed sibling (.gz) is acknowledged (logged) but never
// opened — the tailer always waits for the live uncompressed file.
func (t *Tailer) resolvePath(day time.Time) (string, error) {
	primary := t.paths.PrimaryPath(day)
	if _, err := os.Stat(primary); err == nil {
		return primary, nil
	}
	if _, err := os.Stat(primary + ".gz"); err == nil {
		logging.Info("tailer: compressed daily file present, waiting for live file", "path", primary+".gz")
	}

	legacy := t.paths.LegacyPath(day)
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}

	// Neither exists yet; default to the primary path — it may be created
	// by the producer moments after the tailer starts watching it.
	return primary, nil
}

// openAndReplay opens path (creating it if absent, since the producer may
// not have written it yet) and replays the last ≤10 KiB, dropping any
// record older than replayMaxAgeS.
func (t *Tailer) openAndReplay(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("tailer: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("tailer: stat %s: %w", path, err)
	}

	start := info.Size() - replayReadSize
	if start < 0 {
		start = 0
	}

	buf := make([]byte, info.Size()-start)
	if len(buf) > 0 {
		if _, err := f.ReadAt(buf, start); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("tailer: replay read %s: %w", path, err)
		}
	}

	now := time.Now()
	scanner := bufio.NewScanner(bytes.NewReader(buf))
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if start > 0 && first {
			// the first line after an arbitrary byte offset may be a
			// fragment of a prior line; skip it.
			first = false
			continue
		}
		first = false
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		raw, ok := t.parseLine(line)
		if !ok {
			continue
		}
		if ts, ok := signal.ExtractTimestampMs(raw); ok {
			ageS := float64(now.UnixMilli()-ts) / 1000.0
			if ageS > replayMaxAgeS {
				continue
			}
		}
		t.emit(raw)
	}

	return f, info.Size(), nil
}

func (t *Tailer) drainCompleteLines(partial *bytes.Buffer) {
	data := partial.Bytes()
	lastNewline := bytes.LastIndexByte(data, '\n')
	if lastNewline < 0 {
		return
	}

	complete := data[:lastNewline]
	remainder := append([]byte(nil), data[lastNewline+1:]...)

	for _, line := range bytes.Split(complete, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if raw, ok := t.parseLine(line); ok {
			t.emit(raw)
		}
	}

	partial.Reset()
	partial.Write(remainder)
}

func (t *Tailer) parseLine(line []byte) (signal.Raw, bool) {
	var raw signal.Raw
	if err := json.Unmarshal(line, &raw); err != nil {
		t.malformedCount++
		logging.Warn("tailer: malformed line dropped", "error", err)
		return nil, false
	}
	return raw, true
}

func (t *Tailer) emit(raw signal.Raw) {
	select {
	case t.out <- raw:
	default:
		logging.Warn("tailer: output channel full, dropping record")
	}
}
