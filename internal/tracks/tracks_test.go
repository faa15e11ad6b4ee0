package tracks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"clipstitch/internal/kv"
	"clipstitch/internal/services"
)

func newSelector(t *testing.T, logger *slog.Logger, list ...Track) *Selector {
	t.Helper()
	store, err := kv.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("OpenBadgerInMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	registry := NewRegistry(store)
	for _, tr := range list {
		if err := registry.Register(context.Background(), tr); err != nil {
			t.Fatalf("Register %s: %v", tr.Name, err)
		}
	}
	return NewSelector(registry, logger)
}

var (
	hostTrack  = Track{EpisodeID: "ep", Name: "host", ManifestKey: "ep/host/index.m3u8", Speakers: []string{"Alice"}}
	guestTrack = Track{EpisodeID: "ep", Name: "guest", ManifestKey: "ep/guest/index.m3u8", Speakers: []string{"Bob", "Carol"}}
	mixTrack   = Track{EpisodeID: "ep", Name: "mix", ManifestKey: "ep/mix/index.m3u8", Default: true}
)

func TestSelectExactCaseSensitive(t *testing.T) {
	list := []Track{hostTrack, guestTrack}
	if got, ok := Select(list, "Carol"); !ok || got.Name != "guest" {
		t.Fatalf("Select(Carol) = %+v, %v", got, ok)
	}
	if _, ok := Select(list, "carol"); ok {
		t.Fatal("match must be case-sensitive")
	}
	if _, ok := Select(list, "Dave"); ok {
		t.Fatal("unexpected match for unknown speaker")
	}
	if _, ok := Select(nil, "Alice"); ok {
		t.Fatal("unexpected match on empty list")
	}
}

func TestSelectFirstMatchWins(t *testing.T) {
	dup := Track{EpisodeID: "ep", Name: "alt", ManifestKey: "x", Speakers: []string{"Alice"}}
	got, ok := Select([]Track{hostTrack, dup}, "Alice")
	if !ok || got.Name != "host" {
		t.Fatalf("expected first matching track, got %+v", got)
	}
}

func TestRegistryRoundTripAndUniqueness(t *testing.T) {
	s := newSelector(t, nil, hostTrack, guestTrack)
	ctx := context.Background()
	list, err := s.Registry().Tracks(ctx, "ep")
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if diff := cmp.Diff([]Track{hostTrack, guestTrack}, list); diff != "" {
		t.Fatalf("tracks mismatch (-want +got):\n%s", diff)
	}
	err = s.Registry().Register(ctx, hostTrack)
	if !errors.Is(err, ErrTrackExists) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrTrackExists, got %v", err)
	}
	if err := s.Registry().Register(ctx, Track{EpisodeID: "ep", Name: "bad"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveAll(t *testing.T) {
	s := newSelector(t, nil, hostTrack, guestTrack)
	res, err := s.ResolveAll(context.Background(), "ep", []string{"Alice", "Bob", "Dave", "Alice"})
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(res.Matched) != 2 || res.Matched["Bob"].Name != "guest" {
		t.Fatalf("unexpected matches %+v", res.Matched)
	}
	if diff := cmp.Diff([]string{"Dave"}, res.Unmatched); diff != "" {
		t.Fatalf("unmatched mismatch:\n%s", diff)
	}
}

func TestDefault(t *testing.T) {
	ctx := context.Background()
	flagged := newSelector(t, nil, hostTrack, mixTrack)
	if got, err := flagged.Default(ctx, "ep"); err != nil || got.Name != "mix" {
		t.Fatalf("Default = %+v, %v", got, err)
	}
	first := newSelector(t, nil, guestTrack, hostTrack)
	if got, err := first.Default(ctx, "ep"); err != nil || got.Name != "guest" {
		t.Fatalf("Default without flag = %+v, %v", got, err)
	}
	empty := newSelector(t, nil)
	if _, err := empty.Default(ctx, "ep"); !errors.Is(err, ErrNoTracks) {
		t.Fatalf("expected ErrNoTracks, got %v", err)
	}
}

func TestForSegment(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	s := newSelector(t, slog.New(slog.NewTextHandler(&buf, nil)), hostTrack, guestTrack, mixTrack)

	if got, err := s.ForSegment(ctx, "ep", "host", "Bob"); err != nil || got.Name != "host" {
		t.Fatalf("explicit track = %+v, %v", got, err)
	}
	if got, err := s.ForSegment(ctx, "ep", "", "Bob"); err != nil || got.Name != "guest" {
		t.Fatalf("speaker track = %+v, %v", got, err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected warning %q", buf.String())
	}
	if got, err := s.ForSegment(ctx, "ep", "", "Dave"); err != nil || got.Name != "mix" {
		t.Fatalf("fallback track = %+v, %v", got, err)
	}
	if !strings.Contains(buf.String(), "speaker_track_fallback") {
		t.Fatalf("expected fallback warning, got %q", buf.String())
	}
	if _, err := s.ForSegment(ctx, "ep", "nope", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown track, got %v", err)
	}
}
