// Package chunkmap maps a logical [start,end) interval onto chunk-local
// extraction ranges.
//
// Chunks are treated as half-open intervals [Start, End). A segment boundary
// that lands exactly on a chunk edge therefore belongs to the later chunk, and
// the earlier chunk contributes nothing at that instant.
package chunkmap

import (
	"fmt"
	"log/slog"
	"math"

	"clipstitch/internal/logging"
	"clipstitch/internal/manifest"
	"clipstitch/internal/services"
)

// Tolerance is the allowed difference between requested and mapped duration.
const Tolerance = 0.1

// epsilon drops slivers produced by float rounding at chunk edges.
const epsilon = 1e-6

// ErrNoMatchingChunks reports a segment that overlaps no chunk.
var ErrNoMatchingChunks = fmt.Errorf("%w: no matching chunks", services.ErrValidation)

// Mapping is one chunk-local extraction instruction.
type Mapping struct {
	Chunk       manifest.Chunk
	StartOffset float64
	EndOffset   float64
	Duration    float64
}

// Map returns the ordered extraction instructions that reconstruct [start,end).
func Map(start, end float64, chunks []manifest.Chunk, logger *slog.Logger) ([]Mapping, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if math.IsNaN(start) || math.IsNaN(end) || end <= start {
		return nil, fmt.Errorf("%w: segment end %.3f must be after start %.3f", services.ErrValidation, end, start)
	}

	var out []Mapping
	for _, chunk := range chunks {
		if !(chunk.Start < end && chunk.End > start) {
			continue
		}
		startOffset := math.Max(0, start-chunk.Start)
		endOffset := math.Min(chunk.Duration, end-chunk.Start)
		duration := endOffset - startOffset
		if duration <= epsilon {
			continue
		}
		out = append(out, Mapping{
			Chunk:       chunk,
			StartOffset: startOffset,
			EndOffset:   endOffset,
			Duration:    duration,
		})
	}
	if len(out) == 0 {
		trackEnd := 0.0
		if n := len(chunks); n > 0 {
			trackEnd = chunks[n-1].End
		}
		return nil, fmt.Errorf("%w: segment %.3f-%.3f outside track of %.3fs", ErrNoMatchingChunks, start, end, trackEnd)
	}

	requested := end - start
	mapped := Total(out)
	if diff := math.Abs(mapped - requested); diff > Tolerance {
		attrs := []logging.Attr{
			logging.Float64("requested_seconds", requested),
			logging.Float64("mapped_seconds", mapped),
			logging.Float64("difference_seconds", diff),
			logging.Int("chunk_count", len(out)),
			logging.String(logging.FieldImpact, "segment will be shorter or longer than requested"),
			logging.String(logging.FieldErrorHint, "check the playlist durations against the requested range"),
		}
		if last := out[len(out)-1].Chunk; end > last.End {
			attrs = append(attrs, logging.Bool("past_track_end", true))
		}
		logging.WarnWithContext(logger, "mapped duration differs from requested duration", "chunk_mapping_duration_mismatch", attrs...)
	}
	return out, nil
}

// Total sums the extraction durations.
func Total(mappings []Mapping) float64 {
	total := 0.0
	for _, m := range mappings {
		total += m.Duration
	}
	return total
}
