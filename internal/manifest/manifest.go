// Package manifest parses HLS media playlists into a timeline of chunks and
// loads them from object storage through a cache.
package manifest

import (
	"bufio"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strconv"
	"strings"

	"clipstitch/internal/logging"
	"clipstitch/internal/services"
)

// ErrMalformedManifest reports a playlist that cannot be indexed.
var ErrMalformedManifest = fmt.Errorf("%w: malformed manifest", services.ErrValidation)

const (
	tagHeader         = "#EXTM3U"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagSegment        = "#EXTINF:"
	tagEndList        = "#EXT-X-ENDLIST"
)

// Chunk describes one physical media file and its place on the track timeline.
type Chunk struct {
	Locator  string  `json:"locator"`
	URI      string  `json:"uri"`
	Sequence int     `json:"sequence"`
	Duration float64 `json:"duration"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// Index is the ordered chunk list of one playlist.
type Index struct {
	MediaSequence  int
	TargetDuration float64
	Ended          bool
	Chunks         []Chunk
}

// TotalDuration returns the end offset of the last chunk.
func (ix *Index) TotalDuration() float64 {
	if ix == nil || len(ix.Chunks) == 0 {
		return 0
	}
	return ix.Chunks[len(ix.Chunks)-1].End
}

// Parse indexes raw playlist text. Relative chunk URIs are resolved against
// prefix. Chunks with a non-positive duration are skipped with a warning.
func Parse(text, prefix string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ix := &Index{}
	var (
		sawHeader  bool
		lineNo     int
		pending    bool
		pendingDur float64
		pendingAt  int
		retained   int
		cursor     float64
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(strings.TrimPrefix(line, "\ufeff"), tagHeader) {
				return nil, fmt.Errorf("%w: line %d: missing %s header", ErrMalformedManifest, lineNo, tagHeader)
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, tagMediaSequence):
			seq, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, tagMediaSequence)))
			if err != nil || seq < 0 {
				return nil, fmt.Errorf("%w: line %d: invalid media sequence %q", ErrMalformedManifest, lineNo, line)
			}
			ix.MediaSequence = seq
		case strings.HasPrefix(line, tagTargetDuration):
			target, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, tagTargetDuration)), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: invalid target duration %q", ErrMalformedManifest, lineNo, line)
			}
			ix.TargetDuration = target
		case strings.HasPrefix(line, tagSegment):
			if pending {
				logging.WarnWithContext(logger, "playlist entry has no uri; skipping",
					"manifest_segment_skipped",
					logging.Int("line", pendingAt),
					logging.String(logging.FieldImpact, "timeline omits this entry"),
				)
			}
			dur, err := parseExtinf(strings.TrimPrefix(line, tagSegment))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedManifest, lineNo, err)
			}
			pending, pendingDur, pendingAt = true, dur, lineNo
		case strings.HasPrefix(line, tagEndList):
			ix.Ended = true
		case strings.HasPrefix(line, "#"):
			// comments and tags we do not interpret
		default:
			if !pending {
				logging.WarnWithContext(logger, "playlist uri without duration; skipping",
					"manifest_segment_skipped",
					logging.Int("line", lineNo),
					logging.String("uri", line),
					logging.String(logging.FieldImpact, "timeline omits this entry"),
				)
				continue
			}
			pending = false
			if pendingDur <= 0 {
				logging.WarnWithContext(logger, "playlist segment has non-positive duration; skipping",
					"manifest_segment_skipped",
					logging.Int("line", pendingAt),
					logging.String("uri", line),
					logging.Float64("duration", pendingDur),
					logging.String(logging.FieldImpact, "timeline omits this entry"),
				)
				continue
			}
			ix.Chunks = append(ix.Chunks, Chunk{
				Locator:  resolveLocator(prefix, line),
				URI:      line,
				Sequence: ix.MediaSequence + retained,
				Duration: pendingDur,
				Start:    cursor,
				End:      cursor + pendingDur,
			})
			retained++
			cursor += pendingDur
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read playlist: %v", ErrMalformedManifest, err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedManifest, tagHeader)
	}
	if pending {
		logging.WarnWithContext(logger, "playlist ends with an entry that has no uri; skipping",
			"manifest_segment_skipped",
			logging.Int("line", pendingAt),
		)
	}
	if len(ix.Chunks) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrMalformedManifest)
	}
	return ix, nil
}

func parseExtinf(value string) (float64, error) {
	raw := value
	if idx := strings.IndexByte(raw, ','); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)
	dur, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(dur) || math.IsInf(dur, 0) {
		return 0, fmt.Errorf("invalid segment duration %q", value)
	}
	return dur, nil
}

func resolveLocator(prefix, uri string) string {
	if strings.HasPrefix(uri, "/") || strings.Contains(uri, "://") {
		return uri
	}
	if prefix == "" {
		return path.Clean(uri)
	}
	return path.Join(prefix, uri)
}
