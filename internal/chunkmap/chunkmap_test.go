package chunkmap

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"clipstitch/internal/manifest"
	"clipstitch/internal/services"
)

func chunksOf(durations ...float64) []manifest.Chunk {
	out := make([]manifest.Chunk, 0, len(durations))
	cursor := 0.0
	for i, d := range durations {
		out = append(out, manifest.Chunk{
			Locator:  "track/chunk" + string(rune('a'+i)) + ".ts",
			Sequence: i,
			Duration: d,
			Start:    cursor,
			End:      cursor + d,
		})
		cursor += d
	}
	return out
}

func TestSingleChunkInterior(t *testing.T) {
	got, err := Map(30, 90, chunksOf(120), nil)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(got))
	}
	want := Mapping{Chunk: chunksOf(120)[0], StartOffset: 30, EndOffset: 90, Duration: 60}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestSpanningTwoChunks(t *testing.T) {
	got, err := Map(100, 150, chunksOf(120, 120), nil)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(got))
	}
	if got[0].StartOffset != 100 || got[0].EndOffset != 120 || got[0].Duration != 20 {
		t.Fatalf("unexpected first mapping %+v", got[0])
	}
	if got[1].StartOffset != 0 || got[1].EndOffset != 30 || got[1].Duration != 30 {
		t.Fatalf("unexpected second mapping %+v", got[1])
	}
	if Total(got) != 50 {
		t.Fatalf("expected 50s total, got %v", Total(got))
	}
}

func TestSpanningManyChunksSumsWithinTolerance(t *testing.T) {
	chunks := chunksOf(6.006, 6.006, 5.9, 6.1, 6.006, 4.2, 6)
	for _, tc := range []struct{ start, end float64 }{
		{0.5, 39.1},
		{5.9, 12.1},
		{12.012, 30},
		{1, 2},
	} {
		got, err := Map(tc.start, tc.end, chunks, nil)
		if err != nil {
			t.Fatalf("Map(%v,%v): %v", tc.start, tc.end, err)
		}
		if diff := math.Abs(Total(got) - (tc.end - tc.start)); diff > Tolerance {
			t.Fatalf("Map(%v,%v) total off by %v", tc.start, tc.end, diff)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Chunk.Sequence <= got[i-1].Chunk.Sequence {
				t.Fatalf("mappings out of chunk order: %+v", got)
			}
		}
	}
}

func TestBoundaryBelongsToLaterChunk(t *testing.T) {
	chunks := chunksOf(120, 120)

	startsOnEdge, err := Map(120, 150, chunks, nil)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(startsOnEdge) != 1 || startsOnEdge[0].Chunk.Sequence != 1 || startsOnEdge[0].StartOffset != 0 {
		t.Fatalf("segment starting on an edge must map only to the later chunk: %+v", startsOnEdge)
	}

	endsOnEdge, err := Map(100, 120, chunks, nil)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(endsOnEdge) != 1 || endsOnEdge[0].Chunk.Sequence != 0 || endsOnEdge[0].EndOffset != 120 {
		t.Fatalf("segment ending on an edge must not touch the later chunk: %+v", endsOnEdge)
	}

	whole, err := Map(0, 240, chunks, nil)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(whole) != 2 || Total(whole) != 240 {
		t.Fatalf("expected two full chunks without double counting, got %+v", whole)
	}
}

func TestOutsideTrackFails(t *testing.T) {
	_, err := Map(500, 550, chunksOf(100, 100, 100), nil)
	if !errors.Is(err, ErrNoMatchingChunks) {
		t.Fatalf("expected ErrNoMatchingChunks, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if _, err := Map(0, 10, nil, nil); !errors.Is(err, ErrNoMatchingChunks) {
		t.Fatalf("expected ErrNoMatchingChunks for empty index, got %v", err)
	}
}

func TestInvalidIntervalFails(t *testing.T) {
	for _, tc := range []struct{ start, end float64 }{{10, 10}, {20, 10}, {math.NaN(), 5}} {
		_, err := Map(tc.start, tc.end, chunksOf(60), nil)
		if err == nil || errors.Is(err, ErrNoMatchingChunks) || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Map(%v,%v) expected interval validation error, got %v", tc.start, tc.end, err)
		}
	}
}

func TestPastTrackEndWarnsButSucceeds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got, err := Map(250, 320, chunksOf(100, 100, 100), logger)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if diff := cmp.Diff([]float64{50}, []float64{Total(got)}, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("unexpected total:\n%s", diff)
	}
	out := buf.String()
	if !strings.Contains(out, "chunk_mapping_duration_mismatch") || !strings.Contains(out, "past_track_end=true") {
		t.Fatalf("expected mismatch warning, got %q", out)
	}
}

func TestSmallDriftDoesNotWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	if _, err := Map(0, 100.05, chunksOf(50, 50), logger); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no warning within tolerance, got %q", buf.String())
	}
}
