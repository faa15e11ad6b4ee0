package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"clipstitch/internal/logging"
	"clipstitch/internal/services"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:120
#EXT-X-MEDIA-SEQUENCE:4
#EXTINF:120.0,
chunk_000.ts
#EXTINF:120.000,
chunk_001.ts
#EXTINF:60.5,outro
chunk_002.ts
#EXT-X-ENDLIST
`

func TestParseBuildsCumulativeTimeline(t *testing.T) {
	ix, err := Parse(samplePlaylist, "ep-1/tracks/main", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Chunk{
		{Locator: "ep-1/tracks/main/chunk_000.ts", URI: "chunk_000.ts", Sequence: 4, Duration: 120, Start: 0, End: 120},
		{Locator: "ep-1/tracks/main/chunk_001.ts", URI: "chunk_001.ts", Sequence: 5, Duration: 120, Start: 120, End: 240},
		{Locator: "ep-1/tracks/main/chunk_002.ts", URI: "chunk_002.ts", Sequence: 6, Duration: 60.5, Start: 240, End: 300.5},
	}
	if diff := cmp.Diff(want, ix.Chunks); diff != "" {
		t.Fatalf("chunks mismatch (-want +got):\n%s", diff)
	}
	if ix.TotalDuration() != 300.5 {
		t.Fatalf("unexpected total duration %v", ix.TotalDuration())
	}
	if !ix.Ended || ix.MediaSequence != 4 || ix.TargetDuration != 120 {
		t.Fatalf("unexpected playlist attributes: %+v", ix)
	}
}

func TestParseEndsStrictlyIncreaseAndSumDurations(t *testing.T) {
	durations := []float64{2.002, 6, 6, 5.5, 0.75, 10, 3.25}
	var b strings.Builder
	b.WriteString("#EXTM3U\r\n")
	sum := 0.0
	for i, d := range durations {
		fmt.Fprintf(&b, "#EXTINF:%g,\r\nseg%d.ts\r\n", d, i)
		sum += d
	}
	ix, err := Parse(b.String(), "", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ix.Chunks) != len(durations) {
		t.Fatalf("expected %d chunks, got %d", len(durations), len(ix.Chunks))
	}
	for i := 1; i < len(ix.Chunks); i++ {
		if ix.Chunks[i].End <= ix.Chunks[i-1].End {
			t.Fatalf("chunk %d end %v not after %v", i, ix.Chunks[i].End, ix.Chunks[i-1].End)
		}
		if ix.Chunks[i].Start != ix.Chunks[i-1].End {
			t.Fatalf("chunk %d start %v does not continue previous end %v", i, ix.Chunks[i].Start, ix.Chunks[i-1].End)
		}
		if ix.Chunks[i].Sequence != ix.Chunks[i-1].Sequence+1 {
			t.Fatalf("sequence numbers not contiguous at %d", i)
		}
	}
	if math.Abs(ix.TotalDuration()-sum) > 1e-9 {
		t.Fatalf("total %v != sum %v", ix.TotalDuration(), sum)
	}
}

func TestParseSkipsNonPositiveDurationsWithWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	text := "#EXTM3U\n#EXTINF:10,\na.ts\n#EXTINF:0,\nempty.ts\n#EXTINF:-1,\nneg.ts\n#EXTINF:5,\nb.ts\n"

	ix, err := Parse(text, "p", logger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ix.Chunks) != 2 {
		t.Fatalf("expected 2 retained chunks, got %d", len(ix.Chunks))
	}
	if ix.Chunks[1].URI != "b.ts" || ix.Chunks[1].Start != 10 || ix.Chunks[1].Sequence != 1 {
		t.Fatalf("unexpected second chunk %+v", ix.Chunks[1])
	}
	if got := strings.Count(buf.String(), "manifest_segment_skipped"); got != 2 {
		t.Fatalf("expected 2 skip warnings, got %d: %s", got, buf.String())
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string]string{
		"missing header":     "#EXTINF:10,\na.ts\n",
		"empty":              "",
		"no segments":        "#EXTM3U\n#EXT-X-ENDLIST\n",
		"only zero length":   "#EXTM3U\n#EXTINF:0,\na.ts\n",
		"bad duration":       "#EXTM3U\n#EXTINF:abc,\na.ts\n",
		"nan duration":       "#EXTM3U\n#EXTINF:NaN,\na.ts\n",
		"bad media sequence": "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:x\n#EXTINF:1,\na.ts\n",
	}
	for name, text := range cases {
		_, err := Parse(text, "", logging.NewNop())
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrMalformedManifest) || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected ErrMalformedManifest, got %v", name, err)
		}
	}
}

func TestParseIsDeterministic(t *testing.T) {
	first, err := Parse(samplePlaylist, "x", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse(samplePlaylist, "x", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("parse not deterministic:\n%s", diff)
	}
}

func TestResolveLocator(t *testing.T) {
	cases := []struct{ prefix, uri, want string }{
		{"ep/track", "a.ts", "ep/track/a.ts"},
		{"ep/track", "../shared/a.ts", "ep/shared/a.ts"},
		{"ep/track", "/abs/a.ts", "/abs/a.ts"},
		{"ep/track", "https://cdn.example/a.ts", "https://cdn.example/a.ts"},
		{"", "./a.ts", "a.ts"},
	}
	for _, tc := range cases {
		if got := resolveLocator(tc.prefix, tc.uri); got != tc.want {
			t.Fatalf("resolveLocator(%q, %q) = %q, want %q", tc.prefix, tc.uri, got, tc.want)
		}
	}
}

func TestParseIgnoresDanglingEntries(t *testing.T) {
	text := "#EXTM3U\norphan.ts\n#EXTINF:4,\n#EXTINF:6,\nreal.ts\n#EXTINF:3,\n"
	ix, err := Parse(text, "", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ix.Chunks) != 1 || ix.Chunks[0].URI != "real.ts" || ix.Chunks[0].Duration != 6 {
		t.Fatalf("unexpected chunks %+v", ix.Chunks)
	}
}
