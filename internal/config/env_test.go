package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFilesFeedsRedisFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("CLIPSTITCH_REDIS_ADDR=10.0.0.5:6379\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CLIPSTITCH_REDIS_ADDR", "")
	os.Unsetenv("CLIPSTITCH_REDIS_ADDR")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv("CLIPSTITCH_REDIS_ADDR"); got != "10.0.0.5:6379" {
		t.Fatalf("CLIPSTITCH_REDIS_ADDR = %q", got)
	}
}

func TestLoadEnvFilesKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CLIPSTITCH_REDIS_PASSWORD=fromfile\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CLIPSTITCH_REDIS_PASSWORD", "fromshell")
	if err := LoadEnvFiles(envPath); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv("CLIPSTITCH_REDIS_PASSWORD"); got != "fromshell" {
		t.Fatalf("existing value overwritten: %q", got)
	}
}
