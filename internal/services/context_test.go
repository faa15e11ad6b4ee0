package services_test

import (
	"context"
	"testing"

	"clipstitch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithClipID(ctx, "clip-1")
	ctx = services.WithEpisodeID(ctx, "ep-9")
	ctx = services.WithSegmentIndex(ctx, 3)
	ctx = services.WithRunID(ctx, "run-xyz")
	ctx = services.WithStage(ctx, "stitching")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ClipIDFromContext(ctx); !ok || id != "clip-1" {
		t.Fatalf("unexpected clip id: %v %v", id, ok)
	}
	if id, ok := services.EpisodeIDFromContext(ctx); !ok || id != "ep-9" {
		t.Fatalf("unexpected episode id: %v %v", id, ok)
	}
	if idx, ok := services.SegmentIndexFromContext(ctx); !ok || idx != 3 {
		t.Fatalf("unexpected segment index: %v %v", idx, ok)
	}
	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-xyz" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "stitching" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithClipID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ClipIDFromContext(ctx); ok {
		t.Fatal("expected no clip id value")
	}
	if _, ok := services.SegmentIndexFromContext(ctx); ok {
		t.Fatal("expected no segment index value")
	}
}
