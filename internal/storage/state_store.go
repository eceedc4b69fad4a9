// Package storage implements the local state-file and shadow-short log
// persistence named in spec.md §6: a single JSON state file written
// atomically on every Position mutation, and an append-only shadow-short
// log.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"doge-flow-trader/internal/position"
)

// StateStore persists position.PersistedState to a local file, using a
// write-temp-then-rename sequence so a crash mid-write never corrupts the
// previous, still-valid state file.
type StateStore struct {
	path string
}

// NewStateStore builds a StateStore rooted at dir/position_state.json.
func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, "position_state.json")}
}

var _ position.Persister = (*StateStore)(nil)

// Save implements position.Persister.
func (s *StateStore) Save(snapshot position.PersistedState) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage: rename temp state file: %w", err)
	}
	return nil
}

// Load reads the persisted state, if any. A missing file is not an error —
// the caller starts FLAT (spec.md §4.6).
func (s *StateStore) Load() (position.PersistedState, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return position.PersistedState{}, false, nil
	}
	if err != nil {
		return position.PersistedState{}, false, fmt.Errorf("storage: read state file: %w", err)
	}

	var snap position.PersistedState
	if err := json.Unmarshal(data, &snap); err != nil {
		return position.PersistedState{}, false, fmt.Errorf("storage: decode state file: %w", err)
	}
	return snap, true, nil
}
