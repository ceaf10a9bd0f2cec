package auth

import (
	"context"
	"sync"
	"time"
)

type nonceEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryNonceStore 是进程内的 NonceStore，用于测试与单机开发。
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	now     func() time.Time
}

// NewMemoryNonceStore 创建内存 nonce 存储。
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]nonceEntry), now: time.Now}
}

// Put 写入键值并设置过期时间，已存在的值被覆盖。
func (s *MemoryNonceStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = nonceEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get 读取未过期的值。
func (s *MemoryNonceStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	return entry.value, ok, nil
}

// Delete 删除键。
func (s *MemoryNonceStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Consume 在同一把锁内读取并删除。
func (s *MemoryNonceStore) Consume(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	delete(s.entries, key)
	return entry.value, ok, nil
}

func (s *MemoryNonceStore) live(key string) (nonceEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return nonceEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nonceEntry{}, false
	}
	return entry, true
}
