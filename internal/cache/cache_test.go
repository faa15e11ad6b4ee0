package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"clipstitch/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	defer c.Close()

	c.Set(ctx, "ep/track.m3u8", []byte("#EXTM3U"), time.Minute)
	got, ok := c.Get(ctx, "ep/track.m3u8")
	if !ok || string(got) != "#EXTM3U" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	got[0] = 'X'
	again, _ := c.Get(ctx, "ep/track.m3u8")
	if string(again) != "#EXTM3U" {
		t.Fatal("returned slice aliases the cached value")
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Sets != 1 || stats.CurrentSize != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	c.Delete(ctx, "ep/track.m3u8")
	if _, ok := c.Get(ctx, "ep/track.m3u8"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryExpiredEntryIsMissBeforeJanitor(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(0)
	defer c.Close()
	c.now = clock.Now

	c.Set(ctx, "k", []byte("v"), 10*time.Second)
	clock.Advance(9 * time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expired entry returned")
	}
	if c.Stats().CurrentSize != 1 {
		t.Fatal("entry removed without janitor")
	}
	if n := c.deleteExpired(); n != 1 {
		t.Fatalf("deleteExpired removed %d", n)
	}
	if s := c.Stats(); s.CurrentSize != 0 || s.Evictions != 1 {
		t.Fatalf("unexpected stats after eviction %+v", s)
	}
}

func TestMemoryJanitorEvictsAndStops(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(5 * time.Millisecond)
	c.Set(ctx, "short", []byte("v"), time.Millisecond)
	c.Set(ctx, "forever", []byte("v"), 0)

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().CurrentSize != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not evict: %+v", c.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	c := NewNoop()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("noop cache returned a value")
	}
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", nil)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisSetGetExpire(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "playlist", []byte("#EXTM3U"), 30*time.Second)
	if !mr.Exists("test:playlist") {
		t.Fatal("expected prefixed key in redis")
	}
	got, ok := c.Get(ctx, "playlist")
	if !ok || string(got) != "#EXTM3U" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	mr.FastForward(31 * time.Second)
	if _, ok := c.Get(ctx, "playlist"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 || s.Sets != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRedisUnavailableDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "", nil)
	defer c.Close()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	mr.Close()
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss when redis is down")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	cfg.Cache.Backend = config.CacheBackendNone
	c, err := Open(ctx, &cfg, nil)
	if err != nil {
		t.Fatalf("Open none: %v", err)
	}
	if _, ok := c.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", c)
	}

	cfg.Cache.Backend = config.CacheBackendMemory
	c, err = Open(ctx, &cfg, nil)
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	_ = c.Close()

	mr := miniredis.RunT(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.KV.RedisAddr = mr.Addr()
	c, err = Open(ctx, &cfg, nil)
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	_ = c.Close()
}
