package nonce

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is process-local; counters are lost on restart and the chain
// fallback repopulates them.
type MemoryStore struct {
	mu sync.Mutex // go-cache 本身没有 CAS, 读改写需要外层锁
	c  *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c.Get(key)
	if !ok {
		return 0, false, nil
	}
	return v.(uint64), true, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, old, new uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c.Get(key)
	if !ok || v.(uint64) != old {
		return false, nil
	}
	m.c.Set(key, new, gocache.NoExpiration)
	return true, nil
}
