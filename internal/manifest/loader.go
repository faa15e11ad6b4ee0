package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"clipstitch/internal/cache"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
	"clipstitch/internal/storage"
)

// Loader reads playlists from object storage through an injected cache. It is
// safe for concurrent use when its Store and Cache are.
type Loader struct {
	Store  storage.Store
	Cache  cache.Cache
	TTL    time.Duration
	Logger *slog.Logger
}

// Load returns the index of the playlist stored at manifestKey. Chunk locators
// are resolved against the playlist's own directory.
func (l *Loader) Load(ctx context.Context, manifestKey string) (*Index, error) {
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	text, err := l.read(ctx, manifestKey, logger)
	if err != nil {
		return nil, err
	}
	prefix := path.Dir(manifestKey)
	if prefix == "." {
		prefix = ""
	}
	ix, err := Parse(text, prefix, logger)
	if err != nil {
		if l.Cache != nil {
			l.Cache.Delete(ctx, manifestKey)
		}
		return nil, err
	}
	logger.Debug("manifest loaded",
		logging.String("manifest_key", manifestKey),
		logging.Int("chunk_count", len(ix.Chunks)),
		logging.Float64("total_seconds", ix.TotalDuration()),
	)
	return ix, nil
}

func (l *Loader) read(ctx context.Context, key string, logger *slog.Logger) (string, error) {
	if l.Cache != nil {
		if cached, ok := l.Cache.Get(ctx, key); ok {
			logger.Debug("manifest cache hit", logging.String("manifest_key", key))
			return string(cached), nil
		}
	}
	if l.Store == nil {
		return "", services.Wrap(services.ErrConfiguration, "manifest", "load", "no object store configured", nil)
	}
	data, err := storage.ReadAll(ctx, l.Store, key)
	if err != nil {
		return "", readError(key, err)
	}
	if l.Cache != nil && l.TTL > 0 {
		l.Cache.Set(ctx, key, data, l.TTL)
	}
	return string(data), nil
}

// readError tags throttling as transient. Every other storage error keeps its
// own classification, so a permission failure is not retried.
func readError(key string, err error) error {
	if errors.Is(err, storage.ErrThrottled) {
		return services.Wrap(services.ErrTransient, "manifest", "read playlist", key, err)
	}
	return fmt.Errorf("manifest: read playlist %s: %w", key, err)
}
