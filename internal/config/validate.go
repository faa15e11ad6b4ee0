package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateKV(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.API.RateLimitPerMinute < 0 {
		return errors.New("api.rate_limit_per_minute must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Backend != StorageBackendLocal {
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if strings.ContainsAny(c.Storage.OutputExtension, `/\ `) {
		return fmt.Errorf("storage.output_extension: invalid value %q", c.Storage.OutputExtension)
	}
	if err := ensurePositiveMap(map[string]int{
		"storage.retry_attempts":   c.Storage.RetryAttempts,
		"storage.retry_initial_ms": c.Storage.RetryInitialMS,
		"storage.retry_max_ms":     c.Storage.RetryMaxMS,
	}); err != nil {
		return err
	}
	if c.Storage.RetryMaxMS < c.Storage.RetryInitialMS {
		return errors.New("storage.retry_max_ms must be >= storage.retry_initial_ms")
	}
	return nil
}

func (c *Config) validateKV() error {
	switch c.KV.Backend {
	case KVBackendSQLite, KVBackendBadger:
		return nil
	case KVBackendRedis:
		if c.KV.RedisDB < 0 {
			return errors.New("kv.redis_db must be >= 0")
		}
		return nil
	default:
		return fmt.Errorf("kv.backend: unsupported value %q", c.KV.Backend)
	}
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendNone:
	default:
		return fmt.Errorf("cache.backend: unsupported value %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendNone {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"cache.manifest_ttl_seconds":     c.Cache.ManifestTTLSeconds,
		"cache.cleanup_interval_seconds": c.Cache.CleanupIntervalSeconds,
	})
}

func (c *Config) validateTranscode() error {
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
		return errors.New("transcode.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.segment_concurrency":        c.Workflow.SegmentConcurrency,
		"workflow.clip_concurrency":           c.Workflow.ClipConcurrency,
		"workflow.extraction_timeout_seconds": c.Workflow.ExtractionTimeoutSeconds,
		"workflow.stitch_timeout_seconds":     c.Workflow.StitchTimeoutSeconds,
		"workflow.download_attempts":          c.Workflow.DownloadAttempts,
		"workflow.transient_retry_attempts":   c.Workflow.TransientRetryAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.DownloadBackoffMS < 0 || c.Workflow.TransientInitialMS < 0 {
		return errors.New("workflow backoff values must be >= 0")
	}
	if c.Workflow.DurationToleranceSeconds <= 0 {
		return errors.New("workflow.duration_tolerance_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
