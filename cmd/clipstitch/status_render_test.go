package main

import (
	"bytes"
	"strings"
	"testing"

	"clipstitch/internal/api"
	"clipstitch/internal/clip"
)

func TestStatusLabel(t *testing.T) {
	cases := map[string]string{
		"Pending":            "Pending",
		"InProgress":         "In Progress",
		"SegmentsExtracting": "Segments Extracting",
		"Complete":           "Complete",
		"":                   "",
	}
	for in, want := range cases {
		if got := statusLabel(in); got != want {
			t.Fatalf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderStatusColor(t *testing.T) {
	if got := renderStatus("Complete", false); got != "Complete" {
		t.Fatalf("uncolored status = %q", got)
	}
	if got := renderStatus("Failed", true); got != ansiRed+"Failed"+ansiReset {
		t.Fatalf("colored failed = %q", got)
	}
	if got := renderStatus("Reused", true); !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("reused segment should be green, got %q", got)
	}
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}

func TestRenderHistory(t *testing.T) {
	history := []api.HistoryEntry{
		{Status: "Pending", Timestamp: "2026-03-01T12:00:00.000Z", RunID: "r1"},
		{Status: "Failed", Timestamp: "2026-03-01T12:00:01.000Z", Error: "boom", SegmentIndex: 2},
		{Status: "Complete", Key: "ep/clips/c/clip.mp4", Size: 2048, DurationSeconds: 12.5, ProcessingSeconds: 1.25},
		{Status: "Failed", Error: "context canceled", Interrupted: true},
	}
	out := renderHistory(history, false)
	for _, want := range []string{
		"Pending",
		"boom, segment 2",
		"ep/clips/c/clip.mp4, 2.0 KiB, 00:00:12.500, took 1.25s",
		"context canceled, interrupted",
	} {
		requireContains(t, out, want)
	}
}

func TestRenderSegments(t *testing.T) {
	out := renderSegments([]clip.Segment{
		{Start: 10, End: 40, Speaker: "Alice", Order: 1},
		{Start: 3725.5, End: 3731, Order: 2},
	})
	for _, want := range []string{"Order", "00:00:10.000", "00:00:40.000", "00:00:30.000", "Alice", "01:02:05.500", "00:00:05.500"} {
		requireContains(t, out, want)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
		3 << 30:         "3.0 GiB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "only")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}
