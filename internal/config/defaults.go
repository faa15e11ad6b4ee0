package config

const (
	defaultConfigPath = "~/.config/clipstitch/config.toml"

	defaultWorkDir = "~/.local/share/clipstitch/work"
	defaultLogDir  = "~/.local/share/clipstitch/logs"
	defaultDataDir = "~/.local/share/clipstitch/data"

	defaultStorageRoot     = "~/.local/share/clipstitch/objects"
	defaultOutputExtension = "mp4"
	defaultRetryAttempts   = 5
	defaultRetryInitialMS  = 200
	defaultRetryMaxMS      = 5000

	defaultRedisAddr = "127.0.0.1:6379"

	defaultManifestTTLSeconds = 300
	defaultCleanupSeconds     = 60
	defaultCachePrefix        = "clipstitch:manifest:"

	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultVideoCodec    = "libx264"
	defaultPreset        = "veryfast"
	defaultCRF           = 18
	defaultAudioCodec    = "aac"
	defaultAudioBitrate  = "192k"

	defaultSegmentConcurrency = 5
	defaultClipConcurrency    = 2
	defaultExtractionTimeout  = 900
	defaultStitchTimeout      = 1800
	defaultDownloadAttempts   = 3
	defaultDownloadBackoffMS  = 500
	defaultTransientAttempts  = 4
	defaultTransientInitialMS = 500
	defaultDurationTolerance  = 0.5

	defaultAPIBind   = "127.0.0.1:7488"
	defaultRateLimit = 60

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Backend identifiers.
const (
	StorageBackendLocal = "local"

	KVBackendSQLite = "sqlite"
	KVBackendRedis  = "redis"
	KVBackendBadger = "badger"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			DataDir: defaultDataDir,
		},
		Storage: Storage{
			Backend:         StorageBackendLocal,
			Root:            defaultStorageRoot,
			OutputExtension: defaultOutputExtension,
			RetryAttempts:   defaultRetryAttempts,
			RetryInitialMS:  defaultRetryInitialMS,
			RetryMaxMS:      defaultRetryMaxMS,
		},
		KV: KV{
			Backend:   KVBackendSQLite,
			RedisAddr: defaultRedisAddr,
		},
		Cache: Cache{
			Backend:                CacheBackendMemory,
			ManifestTTLSeconds:     defaultManifestTTLSeconds,
			CleanupIntervalSeconds: defaultCleanupSeconds,
			RedisPrefix:            defaultCachePrefix,
		},
		Transcode: Transcode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			VideoCodec:    defaultVideoCodec,
			Preset:        defaultPreset,
			CRF:           defaultCRF,
			AudioCodec:    defaultAudioCodec,
			AudioBitrate:  defaultAudioBitrate,
		},
		Workflow: Workflow{
			SegmentConcurrency:       defaultSegmentConcurrency,
			ClipConcurrency:          defaultClipConcurrency,
			ExtractionTimeoutSeconds: defaultExtractionTimeout,
			StitchTimeoutSeconds:     defaultStitchTimeout,
			DownloadAttempts:         defaultDownloadAttempts,
			DownloadBackoffMS:        defaultDownloadBackoffMS,
			TransientRetryAttempts:   defaultTransientAttempts,
			TransientInitialMS:       defaultTransientInitialMS,
			DurationToleranceSeconds: defaultDurationTolerance,
		},
		API: API{
			Bind:               defaultAPIBind,
			RateLimitPerMinute: defaultRateLimit,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
