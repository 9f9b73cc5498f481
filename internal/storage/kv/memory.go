package kv

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBucket keeps values in process memory.
type MemoryBucket struct {
	name    string
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryBucket creates an empty in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, entries: make(map[string]memoryEntry)}
}

func (b *MemoryBucket) Name() string       { return b.name }
func (b *MemoryBucket) IsPersistent() bool { return false }

// Put stores a copy of value.
func (b *MemoryBucket) Put(key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: buf, expiresAt: expiry(time.Now(), ttl)}
	return nil
}

func (b *MemoryBucket) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(b.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(b.entries))
	for k, e := range b.entries {
		if e.expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Sweep drops expired entries and returns how many were removed.
func (b *MemoryBucket) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	n := 0
	for k, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, k)
			n++
		}
	}
	return n
}
