package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	if err := c.normalizeKV(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeTranscode()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendLocal
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		c.Storage.Root = defaultStorageRoot
	}
	var err error
	if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	c.Storage.OutputExtension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Storage.OutputExtension)), ".")
	if c.Storage.OutputExtension == "" {
		c.Storage.OutputExtension = defaultOutputExtension
	}
	return nil
}

func (c *Config) normalizeKV() error {
	c.KV.Backend = strings.ToLower(strings.TrimSpace(c.KV.Backend))
	if c.KV.Backend == "" {
		c.KV.Backend = KVBackendSQLite
	}
	if strings.TrimSpace(c.KV.SQLitePath) == "" {
		c.KV.SQLitePath = filepath.Join(c.Paths.DataDir, "clipstitch.db")
	}
	if strings.TrimSpace(c.KV.BadgerDir) == "" {
		c.KV.BadgerDir = filepath.Join(c.Paths.DataDir, "badger")
	}
	var err error
	if c.KV.SQLitePath, err = expandPath(c.KV.SQLitePath); err != nil {
		return fmt.Errorf("kv.sqlite_path: %w", err)
	}
	if c.KV.BadgerDir, err = expandPath(c.KV.BadgerDir); err != nil {
		return fmt.Errorf("kv.badger_dir: %w", err)
	}
	if value, ok := os.LookupEnv("CLIPSTITCH_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.KV.RedisAddr = strings.TrimSpace(value)
	}
	if c.KV.RedisPassword == "" {
		if value, ok := os.LookupEnv("CLIPSTITCH_REDIS_PASSWORD"); ok {
			c.KV.RedisPassword = value
		}
	}
	c.KV.RedisAddr = strings.TrimSpace(c.KV.RedisAddr)
	if c.KV.RedisAddr == "" {
		c.KV.RedisAddr = defaultRedisAddr
	}
	return nil
}

func (c *Config) normalizeCache() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if strings.TrimSpace(c.Cache.RedisPrefix) == "" {
		c.Cache.RedisPrefix = defaultCachePrefix
	}
}

func (c *Config) normalizeTranscode() {
	if strings.TrimSpace(c.Transcode.FFmpegBinary) == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Transcode.FFprobeBinary) == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
	if strings.TrimSpace(c.Transcode.VideoCodec) == "" {
		c.Transcode.VideoCodec = defaultVideoCodec
	}
	if strings.TrimSpace(c.Transcode.AudioCodec) == "" {
		c.Transcode.AudioCodec = defaultAudioCodec
	}
	if strings.TrimSpace(c.Transcode.AudioBitrate) == "" {
		c.Transcode.AudioBitrate = defaultAudioBitrate
	}
	if strings.TrimSpace(c.Transcode.Preset) == "" {
		c.Transcode.Preset = defaultPreset
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
