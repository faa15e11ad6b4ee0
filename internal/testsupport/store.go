package testsupport

import (
	"context"
	"strings"
	"testing"

	"clipstitch/internal/config"
	"clipstitch/internal/kv"
	"clipstitch/internal/storage"
)

// MustOpenKV opens the configured kv store for tests and registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) kv.Store {
	t.Helper()

	store, err := kv.Open(context.Background(), cfg.KV, nil)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenObjects opens a local object store rooted at the config's storage root.
func MustOpenObjects(t testing.TB, cfg *config.Config) *storage.Local {
	t.Helper()

	store, err := storage.NewLocal(cfg.Storage.Root)
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}
	return store
}

// PutObject stores body under key and fails the test on error.
func PutObject(t testing.TB, store storage.Store, key, body string, meta map[string]string) storage.Object {
	t.Helper()

	obj, err := store.Put(context.Background(), key, strings.NewReader(body), meta)
	if err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
	return obj
}
