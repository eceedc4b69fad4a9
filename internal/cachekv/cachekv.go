// Package cachekv mirrors two pieces of hot state into Redis so a second
// instance (or an operator dashboard) can observe them without touching the
// primary in-process state: the EMA20 value computed by internal/market/
// pricering, and the position snapshot owned by internal/position. Redis is
// a mirror, never a source of truth — when it is unavailable the store falls
// back to an in-memory cache and trading continues uninterrupted, following
// the teacher's internal/database/redis_position_state.go pattern.
package cachekv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"doge-flow-trader/internal/logging"
)

const (
	keyPrefix   = "doge-flow-trader"
	ema20TTL    = 30 * time.Second
	positionTTL = 7 * 24 * time.Hour
)

// Store mirrors EMA20 readings and position snapshots into Redis, with an
// in-memory fallback when Redis is unavailable or disabled.
type Store struct {
	client    *redis.Client
	available atomic.Bool

	mu          sync.RWMutex
	ema20Cache  map[string]float64
	positionRaw map[string][]byte
}

// New builds a Store. If client is nil the store operates purely in memory.
func New(client *redis.Client) *Store {
	s := &Store{
		client:      client,
		ema20Cache:  make(map[string]float64),
		positionRaw: make(map[string][]byte),
	}

	if client == nil {
		s.available.Store(false)
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn("cachekv: redis unavailable at startup, using in-memory cache", "error", err)
		s.available.Store(false)
	} else {
		s.available.Store(true)
	}

	return s
}

func ema20Key(symbol string) string {
	return fmt.Sprintf("%s:ema20:%s", keyPrefix, symbol)
}

func positionKey(symbol string) string {
	return fmt.Sprintf("%s:position:%s", keyPrefix, symbol)
}

// SetEMA20 publishes the latest EMA20 reading for symbol.
func (s *Store) SetEMA20(ctx context.Context, symbol string, value float64) {
	s.mu.Lock()
	s.ema20Cache[symbol] = value
	s.mu.Unlock()

	if !s.available.Load() {
		return
	}
	if err := s.client.Set(ctx, ema20Key(symbol), value, ema20TTL).Err(); err != nil {
		logging.Warn("cachekv: redis set ema20 failed, falling back to memory", "error", err)
		s.available.Store(false)
	}
}

// EMA20 returns the last published EMA20 reading for symbol, preferring
// Redis when available so a second instance sees the same value.
func (s *Store) EMA20(ctx context.Context, symbol string) (float64, bool) {
	if s.available.Load() {
		v, err := s.client.Get(ctx, ema20Key(symbol)).Float64()
		if err == nil {
			return v, true
		}
		if err != redis.Nil {
			logging.Warn("cachekv: redis get ema20 failed, falling back to memory", "error", err)
			s.available.Store(false)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.ema20Cache[symbol]
	return v, ok
}

// PositionSnapshot is the reporting-only mirror of position.PersistedState,
// defined independently to avoid an import cycle back into internal/position.
type PositionSnapshot struct {
	State      string    `json:"state"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SetPosition publishes the current position snapshot for symbol.
func (s *Store) SetPosition(ctx context.Context, symbol string, snap PositionSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		logging.Warn("cachekv: marshal position snapshot failed", "error", err)
		return
	}

	s.mu.Lock()
	s.positionRaw[symbol] = raw
	s.mu.Unlock()

	if !s.available.Load() {
		return
	}
	if err := s.client.Set(ctx, positionKey(symbol), raw, positionTTL).Err(); err != nil {
		logging.Warn("cachekv: redis set position failed, falling back to memory", "error", err)
		s.available.Store(false)
	}
}

// Position returns the last published position snapshot for symbol.
func (s *Store) Position(ctx context.Context, symbol string) (PositionSnapshot, bool) {
	var raw []byte

	if s.available.Load() {
		v, err := s.client.Get(ctx, positionKey(symbol)).Bytes()
		if err == nil {
			raw = v
		} else if err != redis.Nil {
			logging.Warn("cachekv: redis get position failed, falling back to memory", "error", err)
			s.available.Store(false)
		}
	}

	if raw == nil {
		s.mu.RLock()
		cached, ok := s.positionRaw[symbol]
		s.mu.RUnlock()
		if !ok {
			return PositionSnapshot{}, false
		}
		raw = cached
	}

	var snap PositionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return PositionSnapshot{}, false
	}
	return snap, true
}

// Available reports whether the Redis backend is currently reachable.
func (s *Store) Available() bool {
	return s.available.Load()
}
