// Package idempotency remembers the response to a keyed request so a retry
// gets the same answer instead of a second side effect.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Record is what a key currently holds. Done is false while the first
// request is still running.
type Record struct {
	Done   bool            `json:"done"`
	Status int             `json:"status,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type Store interface {
	// Reserve claims key. When it is already taken, ok is false and the
	// existing record is returned.
	Reserve(ctx context.Context, key string) (rec Record, ok bool, err error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	// Release forgets a reservation whose request failed, so it may be retried.
	Release(ctx context.Context, key string) error
}

func redisKey(key string) string { return fmt.Sprintf("idempotent-key:%s", key) }

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Record, bool, error) {
	pending, _ := json.Marshal(Record{})
	ok, err := s.rdb.SetNX(ctx, redisKey(key), pending, s.ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return Record{}, true, nil
	}
	val, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Reserve(ctx, key)
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode idempotency key: %w", err)
	}
	return rec, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	b, err := json.Marshal(Record{Done: true, Status: status, Body: body})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKey(key), b, s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}

// MemoryStore is a single-process Store for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	recs map[string]memRecord
	Now  func() time.Time
}

type memRecord struct {
	Record
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, recs: map[string]memRecord{}, Now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if r, ok := s.recs[key]; ok && now.Before(r.expires) {
		return r.Record, false, nil
	}
	s.recs[key] = memRecord{expires: now.Add(s.ttl)}
	return Record{}, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = memRecord{
		Record:  Record{Done: true, Status: status, Body: append([]byte(nil), body...)},
		expires: s.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.recs, key)
	s.mu.Unlock()
	return nil
}
