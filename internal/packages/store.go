package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

// Store caches parsed VnfPkgInfo keyed by the package content checksum.
// Content is immutable per checksum so overwriting an entry is harmless.
type Store interface {
	Get(ctx context.Context, checksum string) (*sol003.VnfPkgInfo, bool, error)
	Put(ctx context.Context, checksum string, info *sol003.VnfPkgInfo) error
}

// MemoryStore is a process local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]sol003.VnfPkgInfo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]sol003.VnfPkgInfo)}
}

func (s *MemoryStore) Get(_ context.Context, checksum string) (*sol003.VnfPkgInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[checksum]
	if !ok {
		return nil, false, nil
	}
	return &info, true, nil
}

func (s *MemoryStore) Put(_ context.Context, checksum string, info *sol003.VnfPkgInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[checksum] = *info
	return nil
}

// Len reports the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisStore shares the cache between driver instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store under prefix. A zero ttl keeps entries
// until evicted by Redis.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "vnfpkginfo:", ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, checksum string) (*sol003.VnfPkgInfo, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+checksum).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read package info %s: %w", checksum, err)
	}
	var info sol003.VnfPkgInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false, fmt.Errorf("failed to decode package info %s: %w", checksum, err)
	}
	return &info, true, nil
}

func (s *RedisStore) Put(ctx context.Context, checksum string, info *sol003.VnfPkgInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode package info %s: %w", checksum, err)
	}
	if err := s.client.Set(ctx, s.prefix+checksum, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store package info %s: %w", checksum, err)
	}
	return nil
}
