package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"clipstitch/internal/clip"
	"clipstitch/internal/ledger"
)

func waitForStatus(t *testing.T, o *Orchestrator, clipID string, want clip.Status) []ledger.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		history, err := o.History(context.Background(), clipID)
		if err == nil && history[len(history)-1].Status == string(want) {
			return history
		}
		time.Sleep(5 * time.Millisecond)
	}
	history, _ := o.History(context.Background(), clipID)
	t.Fatalf("clip %s never reached %s: %v", clipID, want, statuses(history))
	return nil
}

func TestSchedulerRunsEnqueuedClips(t *testing.T) {
	f := newFixture(t, nil)
	s := NewScheduler(f.orch, 2, nil)
	if _, err := s.Enqueue(context.Background(), sampleInput("clip-1")); !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("expected ErrSchedulerStopped, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}

	for _, id := range []string{"clip-1", "clip-2", "clip-3"} {
		sub, err := s.Enqueue(context.Background(), sampleInput(id))
		if err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
		if sub.Status != clip.StatusPending {
			t.Fatalf("submission status %s", sub.Status)
		}
	}
	for _, id := range []string{"clip-1", "clip-2", "clip-3"} {
		waitForStatus(t, f.orch, id, clip.StatusComplete)
	}
	if got := f.stitcher.callCount(); got != 3 {
		t.Fatalf("stitched %d clips, want 3", got)
	}
}

func TestSchedulerRecoversInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.orch.Submit(ctx, sampleInput("pending")); err != nil {
		t.Fatalf("Submit pending: %v", err)
	}
	sub, err := f.orch.Submit(ctx, sampleInput("interrupted"))
	if err != nil {
		t.Fatalf("Submit interrupted: %v", err)
	}
	for _, status := range []clip.Status{clip.StatusInProgress, clip.StatusSegmentsExtracting} {
		if _, err := f.orch.clips.Append(ctx, "interrupted", ledger.Entry{Status: string(status), RunID: sub.RunID}); err != nil {
			t.Fatalf("Append %s: %v", status, err)
		}
	}
	if _, err := f.orch.Run(ctx, sampleInput("done")); err != nil {
		t.Fatalf("Run done: %v", err)
	}

	s := NewScheduler(f.orch, 1, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitForStatus(t, f.orch, "pending", clip.StatusComplete)
	history := waitForStatus(t, f.orch, "interrupted", clip.StatusComplete)
	want := []string{
		"Pending", "InProgress", "SegmentsExtracting", "Failed",
		"Pending", "InProgress", "SegmentsExtracting", "SegmentsComplete", "Stitching", "Complete",
	}
	if diff := cmp.Diff(want, statuses(history)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if !history[3].Interrupted || !strings.Contains(history[3].Error, "interrupted during SegmentsExtracting") {
		t.Fatalf("unexpected failure reason %q", history[3].Error)
	}
	if history[4].RunID == sub.RunID {
		t.Fatal("recovered run reused the interrupted run id")
	}
	if got := f.stitcher.callCount(); got != 3 {
		t.Fatalf("stitched %d clips, want 3", got)
	}
}

func TestSchedulerStopRequeuesOnRestart(t *testing.T) {
	f := newFixture(t, nil)
	f.composer.block = true
	s := NewScheduler(f.orch, 1, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Enqueue(context.Background(), sampleInput("clip-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForStatus(t, f.orch, "clip-1", clip.StatusSegmentsExtracting)
	s.Stop()
	if s.Summary().Running {
		t.Fatal("scheduler still running after Stop")
	}
	current, err := f.orch.Status(context.Background(), "clip-1")
	if err != nil || current.Status != string(clip.StatusFailed) {
		t.Fatalf("Status = %+v, %v", current, err)
	}
	if !current.Interrupted {
		t.Fatalf("shutdown failure not marked interrupted: %+v", current)
	}

	f.composer.block = false
	restarted := NewScheduler(f.orch, 1, nil)
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer restarted.Stop()
	history := waitForStatus(t, f.orch, "clip-1", clip.StatusComplete)
	want := []string{
		"Pending", "InProgress", "SegmentsExtracting", "Failed",
		"Pending", "InProgress", "SegmentsExtracting", "SegmentsComplete", "Stitching", "Complete",
	}
	if diff := cmp.Diff(want, statuses(history)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}
