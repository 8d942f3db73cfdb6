package availability

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 1024

// MemoryBackend keeps entries in a bounded in-process LRU with a fixed TTL.
// It suits a single replica or tests; several replicas need the Redis backend.
type MemoryBackend struct {
	cache *expirable.LRU[string, []byte]
}

func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = defaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := b.cache.Get(key)
	return value, ok, nil
}

// Set stores value for the backend's TTL; the per-call ttl only matters to
// backends that expire entries individually.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.cache.Add(key, value)
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	deleted := 0
	for _, key := range b.cache.Keys() {
		if strings.HasPrefix(key, prefix) && b.cache.Remove(key) {
			deleted++
		}
	}
	return deleted, nil
}
