package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"clipstitch/internal/services"
)

var (
	// ErrNotExist reports a key with no stored object.
	ErrNotExist = fmt.Errorf("%w: object does not exist", services.ErrNotFound)
	// ErrThrottled reports a backend asking the caller to slow down.
	ErrThrottled = fmt.Errorf("%w: storage throttled", services.ErrTransient)
	// ErrInvalidKey reports a key that cannot address an object.
	ErrInvalidKey = fmt.Errorf("%w: invalid object key", services.ErrValidation)
)

// Object describes a stored object.
type Object struct {
	Key      string            `json:"key"`
	Size     int64             `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
	ModTime  time.Time         `json:"mod_time"`
}

// DeleteFailure records one key a batch delete could not remove.
type DeleteFailure struct {
	Key string
	Err error
}

// Store is a flat key/object namespace with string metadata.
type Store interface {
	Head(ctx context.Context, key string) (Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, meta map[string]string) (Object, error)
	// Delete removes every key it can. Missing keys count as deleted. The
	// error is reserved for failures of the batch as a whole.
	Delete(ctx context.Context, keys ...string) ([]DeleteFailure, error)
}

// ValidateKey rejects keys that are empty, absolute or escape the namespace.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "/"), strings.Contains(key, "\\"), strings.Contains(key, "://"):
		return fmt.Errorf("%w: %q must be relative", ErrInvalidKey, key)
	case path.Clean(key) != key:
		return fmt.Errorf("%w: %q is not clean", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, part)
		}
	}
	return nil
}

// Exists reports whether key has an object.
func Exists(ctx context.Context, store Store, key string) (bool, error) {
	if _, err := store.Head(ctx, key); err != nil {
		if errors.Is(err, ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadAll returns the bytes stored under key.
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func cloneMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
