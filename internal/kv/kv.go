// Package kv is the durable key-value store behind status history, workflow
// inputs and the track registry.
//
// A key is used either as a value (Get, Put, PutIfAbsent, Incr) or as a list
// (Append, List), never both. Counters are stored as decimal text in the value
// namespace, so Get on a counter returns its current value. Lists only grow.
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"clipstitch/internal/config"
	"clipstitch/internal/services"
)

// ErrNotFound reports a missing value key.
var ErrNotFound = fmt.Errorf("%w: key not found", services.ErrNotFound)

// ErrInvalidKey reports an empty key.
var ErrInvalidKey = fmt.Errorf("%w: invalid key", services.ErrValidation)

// Store is the durable key-value contract shared by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes value only when key has no value and reports whether
	// it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// Incr atomically adds delta to the counter at key, starting from zero,
	// and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	// Append atomically adds value to the end of the list at key and returns
	// the new list length.
	Append(ctx context.Context, key string, value []byte) (int, error)
	// List returns the list at key oldest first. A missing list is empty.
	List(ctx context.Context, key string) ([][]byte, error)
	Close() error
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.KV, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.KVBackendSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.KVBackendBadger:
		return OpenBadger(cfg.BadgerDir, logger)
	case config.KVBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, services.Wrap(services.ErrConfiguration, "kv", "connect redis", cfg.RedisAddr, err)
		}
		return NewRedis(client), nil
	default:
		return nil, fmt.Errorf("%w: unknown kv backend %q", services.ErrConfiguration, cfg.Backend)
	}
}
