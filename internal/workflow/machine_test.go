package workflow

import (
	"context"
	"errors"
	"testing"

	"clipstitch/internal/clip"
	"clipstitch/internal/services"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to clip.Status
		want     bool
	}{
		{clip.StatusPending, clip.StatusInProgress, true},
		{clip.StatusInProgress, clip.StatusSegmentsExtracting, true},
		{clip.StatusSegmentsExtracting, clip.StatusSegmentsComplete, true},
		{clip.StatusSegmentsComplete, clip.StatusStitching, true},
		{clip.StatusStitching, clip.StatusComplete, true},
		{clip.StatusFailed, clip.StatusPending, true},
		{clip.StatusPending, clip.StatusComplete, false},
		{clip.StatusSegmentsExtracting, clip.StatusStitching, false},
		{clip.StatusComplete, clip.StatusFailed, false},
		{clip.StatusComplete, clip.StatusPending, false},
		{clip.StatusFailed, clip.StatusFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEveryNonTerminalStatusCanFail(t *testing.T) {
	for _, status := range clip.Statuses() {
		if status.IsTerminal() {
			continue
		}
		if !CanTransition(status, clip.StatusFailed) {
			t.Errorf("%s cannot move to Failed", status)
		}
	}
}

func TestMachineFire(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(clip.StatusPending)

	var seen []clip.Status
	record := func(_ context.Context, from, to clip.Status) error {
		seen = append(seen, from, to)
		return nil
	}
	if err := m.Fire(ctx, clip.StatusInProgress, record); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if m.State() != clip.StatusInProgress {
		t.Fatalf("state = %s", m.State())
	}
	if len(seen) != 2 || seen[0] != clip.StatusPending || seen[1] != clip.StatusInProgress {
		t.Fatalf("action saw %v", seen)
	}

	err := m.Fire(ctx, clip.StatusComplete, record)
	if !errors.Is(err, ErrIllegalTransition) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if len(seen) != 2 {
		t.Fatal("action ran for an illegal transition")
	}
}

func TestMachineActionErrorKeepsState(t *testing.T) {
	m := NewMachine(clip.StatusStitching)
	boom := errors.New("boom")
	err := m.Fire(context.Background(), clip.StatusComplete, func(context.Context, clip.Status, clip.Status) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected action error, got %v", err)
	}
	if m.State() != clip.StatusStitching {
		t.Fatalf("state changed to %s", m.State())
	}
	if err := m.Fire(context.Background(), clip.StatusFailed, nil); err != nil {
		t.Fatalf("Fire Failed: %v", err)
	}
}
