package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

const (
	dataDir = "objects"
	metaDir = "meta"
)

type sidecar struct {
	Size     int64             `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
	ModTime  time.Time         `json:"mod_time"`
}

// Local stores objects on the filesystem under a root directory. Object bytes
// and their metadata live in parallel trees so no key can collide with a
// sidecar.
type Local struct {
	root string
}

// NewLocal prepares root for use as an object store.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	for _, dir := range []string{filepath.Join(root, dataDir), filepath.Join(root, metaDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Local{root: root}, nil
}

// Root returns the backing directory.
func (l *Local) Root() string { return l.root }

func (l *Local) dataPath(key string) string {
	return filepath.Join(l.root, dataDir, filepath.FromSlash(key))
}

func (l *Local) metaPath(key string) string {
	return filepath.Join(l.root, metaDir, filepath.FromSlash(key)+".json")
}

// Head returns the size and metadata stored for key.
func (l *Local) Head(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	info, err := os.Stat(l.dataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	obj := Object{Key: key, Size: info.Size(), ModTime: info.ModTime().UTC()}
	raw, err := os.ReadFile(l.metaPath(key))
	switch {
	case err == nil:
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return Object{}, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
		obj.Metadata = sc.Metadata
		if !sc.ModTime.IsZero() {
			obj.ModTime = sc.ModTime
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Object{}, fmt.Errorf("read metadata for %s: %w", key, err)
	}
	return obj, nil
}

// Get opens the object bytes for reading.
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(l.dataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Put writes r under key. The object becomes visible only once fully written.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, meta map[string]string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	target := l.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create object dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(target)
	if err != nil {
		return Object{}, fmt.Errorf("create pending object %s: %w", key, err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	size, err := io.Copy(pending, contextReader{ctx: ctx, r: r})
	if err != nil {
		return Object{}, fmt.Errorf("write object %s: %w", key, err)
	}

	now := time.Now().UTC()
	sc := sidecar{Size: size, Metadata: cloneMeta(meta), ModTime: now}
	encoded, err := json.Marshal(sc)
	if err != nil {
		return Object{}, fmt.Errorf("encode metadata for %s: %w", key, err)
	}
	metaTarget := l.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(metaTarget), 0o755); err != nil {
		return Object{}, fmt.Errorf("create metadata dir: %w", err)
	}
	if err := renameio.WriteFile(metaTarget, encoded, 0o644); err != nil {
		return Object{}, fmt.Errorf("write metadata for %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return Object{}, fmt.Errorf("commit object %s: %w", key, err)
	}
	return Object{Key: key, Size: size, Metadata: sc.Metadata, ModTime: now}, nil
}

// Delete removes each key and its metadata.
func (l *Local) Delete(ctx context.Context, keys ...string) ([]DeleteFailure, error) {
	var failures []DeleteFailure
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		if err := ValidateKey(key); err != nil {
			failures = append(failures, DeleteFailure{Key: key, Err: err})
			continue
		}
		if err := removeIfExists(l.dataPath(key)); err != nil {
			failures = append(failures, DeleteFailure{Key: key, Err: err})
			continue
		}
		if err := removeIfExists(l.metaPath(key)); err != nil {
			failures = append(failures, DeleteFailure{Key: key, Err: err})
		}
	}
	return failures, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
