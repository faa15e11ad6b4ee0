package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Download copies the object at key into localPath and returns the bytes written.
func Download(ctx context.Context, store Store, key, localPath string) (int64, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", localPath, err)
	}
	n, err := io.Copy(out, contextReader{ctx: ctx, r: rc})
	if err != nil {
		_ = out.Close()
		_ = os.Remove(localPath)
		return n, fmt.Errorf("download %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(localPath)
		return n, fmt.Errorf("close %s: %w", localPath, err)
	}
	return n, nil
}

// Upload stores the file at localPath under key.
func Upload(ctx context.Context, store Store, localPath, key string, meta map[string]string) (Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	obj, err := store.Put(ctx, key, f, meta)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return obj, nil
}
