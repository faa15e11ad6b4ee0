// Package cache holds playlist text between manifest loads. Callers inject a
// Cache explicitly; nothing here is process-global.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"clipstitch/internal/config"
	"clipstitch/internal/services"
)

// Cache stores byte values with a per-entry lifetime.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Stats() Stats
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process cache. Expired entries are misses immediately and
// are removed by a janitor goroutine.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   counters
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemory returns a memory cache. A positive cleanupInterval starts the
// janitor; Close stops it.
func NewMemory(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.expired(m.now()) {
		m.stats.misses.Add(1)
		return nil, false
	}
	m.stats.hits.Add(1)
	return append([]byte(nil), e.value...), true
}

// Set stores value. A non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	m.stats.sets.Add(1)
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()
	return m.stats.snapshot(size)
}

// Close stops the janitor and waits for it to exit.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Memory) deleteExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			count++
		}
	}
	m.stats.evictions.Add(int64(count))
	return count
}

func (m *Memory) janitor(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

// Noop caches nothing.
type Noop struct{}

// NewNoop returns a cache that always misses.
func NewNoop() Noop { return Noop{} }

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Delete(context.Context, string)                     {}
func (Noop) Stats() Stats                                       { return Stats{} }
func (Noop) Close() error                                       { return nil }

// Open builds the cache selected by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory, "":
		return NewMemory(cfg.CacheCleanupInterval()), nil
	case config.CacheBackendNone:
		return NewNoop(), nil
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.KV.RedisAddr,
			Password:     cfg.KV.RedisPassword,
			DB:           cfg.KV.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, services.Wrap(services.ErrConfiguration, "cache", "connect redis", cfg.KV.RedisAddr, err)
		}
		return NewRedis(client, cfg.Cache.RedisPrefix, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", services.ErrConfiguration, cfg.Cache.Backend)
	}
}
