package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"clipstitch/internal/services"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func TestLocalPutHeadGet(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	meta := map[string]string{"duration": "12.500", "resolution": "FullHD"}

	obj, err := store.Put(ctx, "ep/clips/c/segments/1.mp4", strings.NewReader("segment-bytes"), meta)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != int64(len("segment-bytes")) {
		t.Fatalf("unexpected size %d", obj.Size)
	}

	head, err := store.Head(ctx, "ep/clips/c/segments/1.mp4")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if diff := cmp.Diff(meta, head.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	if head.Size != obj.Size {
		t.Fatalf("head size %d != put size %d", head.Size, obj.Size)
	}

	data, err := ReadAll(ctx, store, "ep/clips/c/segments/1.mp4")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "segment-bytes" {
		t.Fatalf("unexpected body %q", data)
	}

	meta["duration"] = "mutated"
	head, _ = store.Head(ctx, "ep/clips/c/segments/1.mp4")
	if head.Metadata["duration"] != "12.500" {
		t.Fatal("stored metadata aliases caller map")
	}
}

func TestLocalOverwriteReplacesObject(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	if _, err := store.Put(ctx, "a/b", strings.NewReader("first version"), map[string]string{"v": "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "a/b", strings.NewReader("v2"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	head, err := store.Head(ctx, "a/b")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Size != 2 || len(head.Metadata) != 0 {
		t.Fatalf("expected replaced object, got %+v", head)
	}
}

func TestLocalMissingKey(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, ErrNotExist) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotExist from Head, got %v", err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist from Get, got %v", err)
	}
	ok, err := Exists(ctx, store, "nope")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	for _, key := range []string{"x/1", "x/2"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), nil); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	failures, err := store.Delete(ctx, "x/1", "x/2", "x/missing", "../escape")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(failures) != 1 || failures[0].Key != "../escape" || !errors.Is(failures[0].Err, ErrInvalidKey) {
		t.Fatalf("unexpected failures %+v", failures)
	}
	for _, key := range []string{"x/1", "x/2"} {
		if ok, _ := Exists(ctx, store, key); ok {
			t.Fatalf("%s still exists", key)
		}
		if _, err := os.Stat(store.metaPath(key)); !os.IsNotExist(err) {
			t.Fatalf("metadata for %s still exists", key)
		}
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "ep-1/clips/c/clip.mp4", "a.b/c_d"}
	invalid := []string{"", " ", "/abs", "a/../b", "../a", "a//b", "a/./b", "a/", `a\b`, "s3://bucket/key"}
	for _, key := range valid {
		if err := ValidateKey(key); err != nil {
			t.Fatalf("ValidateKey(%q): %v", key, err)
		}
	}
	for _, key := range invalid {
		if err := ValidateKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("ValidateKey(%q) expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestDownloadUpload(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	src := filepath.Join(t.TempDir(), "in.bin")
	payload := bytes.Repeat([]byte("ab"), 40000)
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	obj, err := Upload(ctx, store, src, "k/in.bin", map[string]string{"x": "y"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if obj.Size != int64(len(payload)) {
		t.Fatalf("unexpected uploaded size %d", obj.Size)
	}
	dst := filepath.Join(t.TempDir(), "nested", "out.bin")
	n, err := Download(ctx, store, "k/in.bin", dst)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if n != int64(len(payload)) || !bytes.Equal(got, payload) {
		t.Fatalf("downloaded %d bytes, content equal=%v", n, bytes.Equal(got, payload))
	}
	if _, err := Download(ctx, store, "k/missing", dst+".2"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if _, err := os.Stat(dst + ".2"); !os.IsNotExist(err) {
		t.Fatal("missing object must not leave a local file")
	}
}

// flaky throttles the first n calls of each operation.
type flaky struct {
	Store
	mu       sync.Mutex
	throttle int
	calls    map[string]int
	failWith error
}

func (f *flaky) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	if f.failWith != nil {
		return f.failWith
	}
	if f.calls[op] <= f.throttle {
		return ErrThrottled
	}
	return nil
}

func (f *flaky) Head(ctx context.Context, key string) (Object, error) {
	if err := f.hit("head"); err != nil {
		return Object{}, err
	}
	return f.Store.Head(ctx, key)
}

func (f *flaky) Put(ctx context.Context, key string, r io.Reader, meta map[string]string) (Object, error) {
	if err := f.hit("put"); err != nil {
		_, _ = io.CopyN(io.Discard, r, 3)
		return Object{}, err
	}
	return f.Store.Put(ctx, key, r, meta)
}

func (f *flaky) Delete(ctx context.Context, keys ...string) ([]DeleteFailure, error) {
	if err := f.hit("delete"); err != nil {
		out := make([]DeleteFailure, 0, len(keys))
		for _, k := range keys {
			out = append(out, DeleteFailure{Key: k, Err: err})
		}
		return out, nil
	}
	return f.Store.Delete(ctx, keys...)
}

func fastRetry(attempts int, retries *int) RetryOptions {
	return RetryOptions{
		Attempts: attempts,
		Initial:  time.Millisecond,
		Max:      2 * time.Millisecond,
		OnRetry:  func(string, error) { *retries++ },
	}
}

func TestRetryAbsorbsThrottling(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Store: newLocal(t), throttle: 2}
	retries := 0
	store := WithRetry(inner, fastRetry(5, &retries), nil)

	obj, err := store.Put(ctx, "a/b", strings.NewReader("payload"), nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != int64(len("payload")) {
		t.Fatalf("retry must rewind the body, stored %d bytes", obj.Size)
	}
	if _, err := store.Head(ctx, "a/b"); err != nil {
		t.Fatalf("Head: %v", err)
	}
	if retries != 4 {
		t.Fatalf("expected 4 retries, got %d", retries)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	inner := &flaky{Store: newLocal(t), throttle: 100}
	retries := 0
	store := WithRetry(inner, fastRetry(3, &retries), nil)
	_, err := store.Head(context.Background(), "a")
	if !errors.Is(err, ErrThrottled) || !services.Retryable(err) {
		t.Fatalf("expected surfaced throttle error, got %v", err)
	}
	if inner.calls["head"] != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls["head"])
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	inner := &flaky{Store: newLocal(t), failWith: boom}
	retries := 0
	store := WithRetry(inner, fastRetry(5, &retries), nil)
	if _, err := store.Head(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if inner.calls["head"] != 1 || retries != 0 {
		t.Fatalf("permanent error retried: calls=%d retries=%d", inner.calls["head"], retries)
	}
}

func TestRetryDeleteRetriesThrottledKeys(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	for _, key := range []string{"d/1", "d/2"} {
		if _, err := local.Put(ctx, key, strings.NewReader("x"), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	retries := 0
	store := WithRetry(&flaky{Store: local, throttle: 1}, fastRetry(3, &retries), nil)
	failures, err := store.Delete(ctx, "d/1", "d/2")
	if err != nil || len(failures) != 0 {
		t.Fatalf("Delete = %+v, %v", failures, err)
	}
	if ok, _ := Exists(ctx, local, "d/1"); ok {
		t.Fatal("d/1 not deleted")
	}
}
