package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/infra"
)

// MemoryStore keeps challenges in process. Expired entries are dropped on
// lookup and by Sweep, which Run calls on a ticker.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Challenge
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Challenge), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, c Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ExpiresAt = s.now().Add(ttl)
	s.items[c.SessionID] = c
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[sessionID]
	if !ok {
		return Challenge{}, core.ErrChallengeNotFound
	}
	if !s.now().Before(c.ExpiresAt) {
		delete(s.items, sessionID)
		return Challenge{}, core.ErrChallengeNotFound
	}
	return c, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, c := range s.items {
		if !now.Before(c.ExpiresAt) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored challenges, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Run sweeps expired challenges every interval until ctx is done. Sessions
// that are issued but never redeemed are only reclaimed here.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("[Challenge] Swept expired challenges", "count", n)
			}
		}
	}
}

// KV is the subset of infra.GoRedisAdapter the Redis store needs.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisStore keeps challenges in Redis so every replica can resolve them.
// Expiry is delegated to the key TTL.
type RedisStore struct {
	kv     KV
	prefix string
}

func NewRedisStore(kv KV) *RedisStore {
	return &RedisStore{kv: kv, prefix: "challenge:"}
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

func (s *RedisStore) Save(ctx context.Context, c Challenge, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	return s.kv.Set(ctx, s.key(c.SessionID), data, ttl)
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Challenge, error) {
	data, err := s.kv.Get(ctx, s.key(sessionID))
	if errors.Is(err, infra.ErrNotFound) {
		return Challenge{}, core.ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("get challenge %s: %w", sessionID, err)
	}

	var c Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge %s: %w", sessionID, err)
	}
	return c, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, s.key(sessionID))
}
