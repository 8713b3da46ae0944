package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Outcome describes one observation of a breach key.
//
//	Active  - the sustain requirement is currently met. Every Active
//	          observation feeds the alert store's upsert: the first one
//	          opens the alert, later ones count as repeat triggers.
//	Cleared - the key was tracking a breach that reached Active and the
//	          condition has resolved (drives auto-clear)
type Outcome struct {
	Active  bool
	Cleared bool
}

// BreachStore tracks per-key breach streaks across ticks. A key is
// "rule:device" for rule-level sustain and "rule:device:N" for the Nth
// clause of a multi rule.
type BreachStore interface {
	Observe(ctx context.Context, key string, breaching bool, sustain time.Duration, now time.Time) (Outcome, error)
}

type breachState struct {
	Since time.Time `json:"since"`
	Fired bool      `json:"fired"`
}

func (st *breachState) observe(breaching bool, sustain time.Duration, now time.Time) (Outcome, *breachState) {
	if !breaching {
		if st == nil {
			return Outcome{}, nil
		}
		return Outcome{Cleared: st.Fired}, nil
	}

	if st == nil {
		st = &breachState{Since: now}
	}
	if now.Sub(st.Since) < sustain {
		return Outcome{}, st
	}
	st.Fired = true
	return Outcome{Active: true}, st
}

// MemoryBreachStore keeps breach streaks in process memory. Fine for a
// single-instance deployment; streaks reset on restart, which only
// delays sustained alerts by at most their duration.
type MemoryBreachStore struct {
	mu     sync.Mutex
	states map[string]*breachState
}

func NewMemoryBreachStore() *MemoryBreachStore {
	return &MemoryBreachStore{states: make(map[string]*breachState)}
}

func (m *MemoryBreachStore) Observe(_ context.Context, key string, breaching bool, sustain time.Duration, now time.Time) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, next := m.states[key].observe(breaching, sustain, now)
	if next == nil {
		delete(m.states, key)
	} else {
		m.states[key] = next
	}
	return out, nil
}

// RedisBreachStore keeps breach streaks in Redis so multiple instances
// evaluating disjoint rule partitions share nothing but still survive
// restarts. State is JSON with a TTL; an expired key simply restarts
// the streak.
type RedisBreachStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisBreachStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisBreachStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBreachStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisBreachStore) Observe(ctx context.Context, key string, breaching bool, sustain time.Duration, now time.Time) (Outcome, error) {
	fullKey := r.keyPrefix + key

	var st *breachState
	val, err := r.client.Get(ctx, fullKey).Result()
	if err != nil && err != redis.Nil {
		return Outcome{}, fmt.Errorf("failed to get breach state: %w", err)
	}
	if err == nil {
		st = &breachState{}
		if uerr := json.Unmarshal([]byte(val), st); uerr != nil {
			// 状态损坏，丢弃并重新计数
			st = nil
		}
	}

	out, next := st.observe(breaching, sustain, now)

	if next == nil {
		if err := r.client.Del(ctx, fullKey).Err(); err != nil {
			return Outcome{}, fmt.Errorf("failed to delete breach state: %w", err)
		}
		return out, nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to marshal breach state: %w", err)
	}
	if err := r.client.Set(ctx, fullKey, data, r.ttl).Err(); err != nil {
		return Outcome{}, fmt.Errorf("failed to set breach state: %w", err)
	}
	return out, nil
}
