package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
}

// Storage contains object storage configuration.
type Storage struct {
	Backend         string `toml:"backend"`
	Root            string `toml:"root"`
	OutputExtension string `toml:"output_extension"`
	RetryAttempts   int    `toml:"retry_attempts"`
	RetryInitialMS  int    `toml:"retry_initial_ms"`
	RetryMaxMS      int    `toml:"retry_max_ms"`
}

// KV contains durable key-value store configuration.
type KV struct {
	Backend       string `toml:"backend"`
	SQLitePath    string `toml:"sqlite_path"`
	BadgerDir     string `toml:"badger_dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Cache contains manifest cache configuration.
type Cache struct {
	Backend                string `toml:"backend"`
	ManifestTTLSeconds     int    `toml:"manifest_ttl_seconds"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
	RedisPrefix            string `toml:"redis_prefix"`
}

// Transcode contains external transcoder settings.
type Transcode struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	VideoCodec    string `toml:"video_codec"`
	Preset        string `toml:"preset"`
	CRF           int    `toml:"crf"`
	AudioCodec    string `toml:"audio_codec"`
	AudioBitrate  string `toml:"audio_bitrate"`
}

// Workflow contains orchestration limits and timeouts.
type Workflow struct {
	SegmentConcurrency       int     `toml:"segment_concurrency"`
	ClipConcurrency          int     `toml:"clip_concurrency"`
	ExtractionTimeoutSeconds int     `toml:"extraction_timeout_seconds"`
	StitchTimeoutSeconds     int     `toml:"stitch_timeout_seconds"`
	DownloadAttempts         int     `toml:"download_attempts"`
	DownloadBackoffMS        int     `toml:"download_backoff_ms"`
	TransientRetryAttempts   int     `toml:"transient_retry_attempts"`
	TransientInitialMS       int     `toml:"transient_initial_ms"`
	DurationToleranceSeconds float64 `toml:"duration_tolerance_seconds"`
}

// API contains HTTP surface configuration.
type API struct {
	Bind               string `toml:"bind"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipstitch.
//
// Configuration sections by subsystem:
//   - Paths: scratch, log and data directories
//   - Storage: object store backend and throttle retry policy
//   - KV: durable status/registry store backend
//   - Cache: manifest cache backend and lifetime
//   - Transcode: ffmpeg/ffprobe binaries and the normalized codec set
//   - Workflow: fan-out limits, stage timeouts and retry budgets
//   - API: daemon HTTP bind address and rate limits
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Storage   Storage   `toml:"storage"`
	KV        KV        `toml:"kv"`
	Cache     Cache     `toml:"cache"`
	Transcode Transcode `toml:"transcode"`
	Workflow  Workflow  `toml:"workflow"`
	API       API       `toml:"api"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipstitch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.LogDir, c.Paths.DataDir}
	if c.Storage.Backend == StorageBackendLocal {
		dirs = append(dirs, c.Storage.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorageRetryInitial returns the first throttle retry delay.
func (c *Config) StorageRetryInitial() time.Duration {
	return time.Duration(c.Storage.RetryInitialMS) * time.Millisecond
}

// StorageRetryMax caps the throttle retry delay.
func (c *Config) StorageRetryMax() time.Duration {
	return time.Duration(c.Storage.RetryMaxMS) * time.Millisecond
}

// ManifestTTL returns the manifest cache entry lifetime.
func (c *Config) ManifestTTL() time.Duration {
	return time.Duration(c.Cache.ManifestTTLSeconds) * time.Second
}

// CacheCleanupInterval returns how often the memory cache evicts expired entries.
func (c *Config) CacheCleanupInterval() time.Duration {
	return time.Duration(c.Cache.CleanupIntervalSeconds) * time.Second
}

// ExtractionTimeout returns the per-segment composition ceiling.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Workflow.ExtractionTimeoutSeconds) * time.Second
}

// StitchTimeout returns the stitching ceiling.
func (c *Config) StitchTimeout() time.Duration {
	return time.Duration(c.Workflow.StitchTimeoutSeconds) * time.Second
}

// DownloadBackoff returns the fixed delay between stitcher download attempts.
func (c *Config) DownloadBackoff() time.Duration {
	return time.Duration(c.Workflow.DownloadBackoffMS) * time.Millisecond
}

// TransientInitialBackoff returns the first delay used for transient retries.
func (c *Config) TransientInitialBackoff() time.Duration {
	return time.Duration(c.Workflow.TransientInitialMS) * time.Millisecond
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "clipstitchd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
