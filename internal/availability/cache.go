// Package availability serves the "currently live" slot listing through a
// short-lived, request-coalescing read-through cache.
package availability

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"adslot/internal/logger"
	"adslot/internal/metrics"
	"adslot/internal/slot"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix   = "slots:active:"
	anySlotKey  = "*"
	DefaultTTL  = 5 * time.Second
	scopeType   = "slot_type"
	scopeGlobal = "all"
)

// Loader reads the active bookings for a slot from the store.
type Loader func(ctx context.Context, slotType string, slotKey *string) ([]slot.Booking, error)

// Backend is the shared storage behind the cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Invalidator is what mutating components need from the cache.
type Invalidator interface {
	InvalidateSlotType(ctx context.Context, slotType string) error
	InvalidateAll(ctx context.Context) error
}

type Cache struct {
	backend Backend
	load    Loader
	ttl     time.Duration
	group   singleflight.Group
	// gen moves on every invalidation. A fill that began under an older
	// generation must not write its result back.
	gen atomic.Uint64
	log *zap.SugaredLogger
}

func New(backend Backend, load Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		backend: backend,
		load:    load,
		ttl:     ttl,
		log:     logger.Named("availability"),
	}
}

// Key builds the cache key for a slot. A nil slotKey addresses the whole slot type.
func Key(slotType string, slotKey *string) string {
	k := anySlotKey
	if slotKey != nil {
		k = *slotKey
	}
	return keyPrefix + slotType + ":" + k
}

func typePrefix(slotType string) string {
	return keyPrefix + slotType + ":"
}

// ListActive returns the live bookings for a slot in display order. Concurrent
// misses on one key share a single store query.
func (c *Cache) ListActive(ctx context.Context, slotType string, slotKey *string) ([]slot.Booking, error) {
	key := Key(slotType, slotKey)

	if raw, ok, err := c.backend.Get(ctx, key); err != nil {
		c.log.Warnw("cache read failed, falling back to store", "key", key, "error", err)
	} else if ok {
		var bookings []slot.Booking
		if err := json.Unmarshal(raw, &bookings); err == nil {
			metrics.RecordCacheLookup("hit")
			return bookings, nil
		}
		c.log.Warnw("discarding undecodable cache entry", "key", key)
	}

	gen := c.gen.Load()
	flightKey := key + "#" + strconv.FormatUint(gen, 10)

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		// The fill outlives any single caller so joiners are not failed by
		// the leader's cancellation.
		fillCtx := context.WithoutCancel(ctx)
		bookings, err := c.load(fillCtx, slotType, slotKey)
		if err != nil {
			return nil, err
		}
		slot.Order(bookings)
		c.store(fillCtx, key, gen, bookings)
		return bookings, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.RecordCacheLookup("shared")
		} else {
			metrics.RecordCacheLookup("miss")
		}
		shared := res.Val.([]slot.Booking)
		out := make([]slot.Booking, len(shared))
		copy(out, shared)
		return out, nil
	}
}

func (c *Cache) store(ctx context.Context, key string, gen uint64, bookings []slot.Booking) {
	if c.gen.Load() != gen {
		return
	}
	raw, err := json.Marshal(bookings)
	if err != nil {
		c.log.Warnw("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warnw("cache write failed", "key", key, "error", err)
	}
}

// InvalidateSlotType drops every entry for slotType, whatever its slot key.
func (c *Cache) InvalidateSlotType(ctx context.Context, slotType string) error {
	c.gen.Add(1)
	metrics.RecordCacheInvalidation(scopeType)

	n, err := c.backend.DeletePrefix(ctx, typePrefix(slotType))
	if err != nil {
		return err
	}
	c.log.Debugw("invalidated slot type", "slot_type", slotType, "keys", n)
	return nil
}

// InvalidateAll drops the whole availability namespace.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.gen.Add(1)
	metrics.RecordCacheInvalidation(scopeGlobal)

	n, err := c.backend.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return err
	}
	c.log.Debugw("invalidated availability cache", "keys", n)
	return nil
}

// matchPattern escapes glob metacharacters so a prefix can be used with SCAN MATCH.
func matchPattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(prefix) + "*"
}
