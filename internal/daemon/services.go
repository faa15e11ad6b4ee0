package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clipstitch/internal/cache"
	"clipstitch/internal/compose"
	"clipstitch/internal/config"
	"clipstitch/internal/kv"
	"clipstitch/internal/logging"
	"clipstitch/internal/manifest"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/stitch"
	"clipstitch/internal/storage"
	"clipstitch/internal/tracks"
	"clipstitch/internal/transcode"
	"clipstitch/internal/workflow"
)

// Services is the wired pipeline shared by the daemon and the one-shot CLI.
type Services struct {
	KV           kv.Store
	Objects      storage.Store
	Cache        cache.Cache
	Metrics      *metrics.Pipeline
	Tracks       *tracks.Registry
	Media        *transcode.FFmpeg
	Orchestrator *workflow.Orchestrator
}

// Build opens every backend named by cfg and wires the pipeline.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", services.ErrConfiguration)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	m := metrics.New()
	local, err := storage.NewLocal(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	objects := storage.WithRetry(local, storage.RetryOptions{
		Attempts: cfg.Storage.RetryAttempts,
		Initial:  cfg.StorageRetryInitial(),
		Max:      cfg.StorageRetryMax(),
		OnRetry:  func(op string, _ error) { m.IncStorageRetry(op) },
	}, logger)

	store, err := kv.Open(ctx, cfg.KV, logger)
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := tracks.NewRegistry(store)
	media := transcode.New(transcode.OptionsFromConfig(cfg.Transcode), logger)
	composer := compose.New(compose.Dependencies{
		Store:     objects,
		Manifests: &manifest.Loader{Store: objects, Cache: c, TTL: cfg.ManifestTTL(), Logger: logger},
		Tracks:    tracks.NewSelector(registry, logger),
		Media:     media,
		Metrics:   m,
	}, compose.Options{WorkDir: cfg.Paths.WorkDir, Extension: cfg.Storage.OutputExtension}, logger)
	stitcher := stitch.New(objects, media, m, stitch.Options{
		WorkDir:           cfg.Paths.WorkDir,
		Extension:         cfg.Storage.OutputExtension,
		DownloadAttempts:  cfg.Workflow.DownloadAttempts,
		DownloadBackoff:   cfg.DownloadBackoff(),
		DurationTolerance: cfg.Workflow.DurationToleranceSeconds,
	}, logger)

	return &Services{
		KV:           store,
		Objects:      objects,
		Cache:        c,
		Metrics:      m,
		Tracks:       registry,
		Media:        media,
		Orchestrator: workflow.NewOrchestrator(store, composer, stitcher, m, workflow.OptionsFromConfig(cfg), logger),
	}, nil
}

// Close releases the cache and kv store.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.KV != nil {
		errs = append(errs, s.KV.Close())
	}
	return errors.Join(errs...)
}
