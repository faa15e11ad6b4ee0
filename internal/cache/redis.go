package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clipstitch/internal/logging"
)

const redisOpTimeout = 2 * time.Second

// Redis shares cached playlists between daemons. Redis failures degrade to
// misses; the caller falls back to object storage.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	stats  counters
}

// NewRedis takes ownership of client. Keys are stored under prefix.
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "cache"),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.stats.misses.Add(1)
		return nil, false
	}
	if err != nil {
		logging.WarnWithContext(r.logger, "redis cache get failed", "cache_unavailable",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "manifest is read from object storage"),
		)
		r.stats.misses.Add(1)
		return nil, false
	}
	r.stats.hits.Add(1)
	return value, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		logging.WarnWithContext(r.logger, "redis cache set failed", "cache_unavailable",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "next load reads object storage again"),
		)
		return
	}
	r.stats.sets.Add(1)
}

func (r *Redis) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.logger.Debug("redis cache delete failed", logging.String("key", key), logging.Error(err))
	}
}

// Stats reports local counters. CurrentSize is not tracked for a shared server.
func (r *Redis) Stats() Stats {
	return r.stats.snapshot(0)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
