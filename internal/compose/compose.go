// Package compose materializes one logical segment as a single stored media
// file.
//
// The stored object's key is derived from (episode, clip, segment index), and
// its existence is checked before any download or transcode. A composer that
// crashed or timed out halfway can therefore be rerun safely: it either finds
// the finished object or redoes the work into a fresh scratch directory.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipstitch/internal/chunkmap"
	"clipstitch/internal/clip"
	"clipstitch/internal/fileutil"
	"clipstitch/internal/logging"
	"clipstitch/internal/manifest"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/storage"
	"clipstitch/internal/timecode"
	"clipstitch/internal/tracks"
	"clipstitch/internal/transcode"
)

// Object metadata keys written on every materialized segment.
const (
	MetaExtractionType = "extraction-type"
	MetaExtractionMode = "extraction-mode"
	MetaSourceChunks   = "source-chunks"
	MetaChunkOffsets   = "chunk-offsets"
	MetaDuration       = "duration"
	MetaWidth          = "width"
	MetaHeight         = "height"
	MetaResolution     = "resolution"
	MetaVideoCodec     = "video-codec"
	MetaAudioCodec     = "audio-codec"
	MetaTrack          = "track"
)

// Extraction types.
const (
	TypeSingle = "single"
	TypeMulti  = "multi"
)

// ErrUploadMismatch reports a stored object whose size differs from the local file.
var ErrUploadMismatch = fmt.Errorf("%w: uploaded size mismatch", services.ErrTransient)

// Media is the transcoder surface the composer needs.
type Media interface {
	Extract(ctx context.Context, req transcode.ExtractRequest) (transcode.ExtractResult, error)
	Concat(ctx context.Context, inputs []string, output string) (transcode.Metadata, error)
}

// Manifests loads chunk indexes by manifest key.
type Manifests interface {
	Load(ctx context.Context, manifestKey string) (*manifest.Index, error)
}

// Tracks chooses the track a segment is cut from.
type Tracks interface {
	ForSegment(ctx context.Context, episodeID, trackName, speaker string) (tracks.Track, error)
}

// Dependencies are the collaborators a Composer drives.
type Dependencies struct {
	Store     storage.Store
	Manifests Manifests
	Tracks    Tracks
	Media     Media
	Metrics   *metrics.Pipeline
}

// Options tune where the composer works and what it writes.
type Options struct {
	WorkDir   string
	Extension string
}

// Request identifies the segment to materialize.
type Request struct {
	EpisodeID string
	ClipID    string
	Index     int
	Segment   clip.Segment
	// TrackName overrides Segment.Track when set.
	TrackName string
}

// Composer turns logical segments into stored media files.
type Composer struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
}

// New returns a Composer.
func New(deps Dependencies, opts Options, logger *slog.Logger) *Composer {
	if strings.TrimSpace(opts.Extension) == "" {
		opts.Extension = "mp4"
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	return &Composer{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "compose"),
	}
}

func (r Request) validate() error {
	if err := clip.ValidateID("episodeId", r.EpisodeID); err != nil {
		return err
	}
	if err := clip.ValidateID("clipId", r.ClipID); err != nil {
		return err
	}
	if r.Index < 1 {
		return fmt.Errorf("%w: segment index %d must be positive", services.ErrValidation, r.Index)
	}
	return r.Segment.Validate()
}

// Compose materializes req and returns the stored segment. An existing object
// at the segment's key is returned as-is with Reused set.
func (c *Composer) Compose(ctx context.Context, req Request) (clip.MaterializedSegment, error) {
	if err := req.validate(); err != nil {
		return clip.MaterializedSegment{}, err
	}
	ctx = services.WithSegmentIndex(services.WithClipID(services.WithEpisodeID(ctx, req.EpisodeID), req.ClipID), req.Index)
	logger := logging.WithContext(ctx, c.logger)

	trackName := req.TrackName
	if trackName == "" {
		trackName = req.Segment.Track
	}
	track, err := c.deps.Tracks.ForSegment(ctx, req.EpisodeID, trackName, req.Segment.Speaker)
	if err != nil {
		return clip.MaterializedSegment{}, fmt.Errorf("resolve track: %w", err)
	}
	index, err := c.deps.Manifests.Load(ctx, track.ManifestKey)
	if err != nil {
		return clip.MaterializedSegment{}, fmt.Errorf("load manifest for track %s: %w", track.Name, err)
	}
	mappings, err := chunkmap.Map(req.Segment.Start, req.Segment.End, index.Chunks, logger)
	if err != nil {
		return clip.MaterializedSegment{}, err
	}

	key := clip.SegmentKey(req.EpisodeID, req.ClipID, req.Index, c.opts.Extension)
	existing, err := c.deps.Store.Head(ctx, key)
	switch {
	case err == nil:
		logger.Info("segment already materialized; reusing",
			logging.String("key", key),
			logging.Int64("size", existing.Size),
		)
		return fromObject(req.Index, existing), nil
	case !errors.Is(err, storage.ErrNotExist):
		return clip.MaterializedSegment{}, fmt.Errorf("check segment %s: %w", key, err)
	}

	started := time.Now()
	dir, cleanup, err := fileutil.ScratchDir(c.opts.WorkDir, fmt.Sprintf("%s-%d-*", req.ClipID, req.Index))
	if err != nil {
		return clip.MaterializedSegment{}, err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logging.WarnWithContext(logger, "scratch cleanup failed", "compose_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch files remain on local disk"),
				logging.String(logging.FieldErrorHint, "check permissions of the work directory"),
			)
		}
	}()

	output := filepath.Join(dir, "segment."+c.opts.Extension)
	var (
		meta  transcode.Metadata
		modes []transcode.Mode
	)
	if len(mappings) == 1 {
		res, err := c.extractChunk(ctx, dir, 0, mappings[0], output)
		if err != nil {
			return clip.MaterializedSegment{}, err
		}
		meta = res.Metadata
		modes = append(modes, res.Mode)
	} else {
		parts := make([]string, 0, len(mappings))
		for i, m := range mappings {
			part := filepath.Join(dir, fmt.Sprintf("part-%03d.%s", i, c.opts.Extension))
			res, err := c.extractChunk(ctx, dir, i, m, part)
			if err != nil {
				return clip.MaterializedSegment{}, err
			}
			parts = append(parts, part)
			modes = append(modes, res.Mode)
		}
		meta, err = c.deps.Media.Concat(ctx, parts, output)
		if err != nil {
			return clip.MaterializedSegment{}, fmt.Errorf("join %d parts: %w", len(parts), err)
		}
	}

	localSize, err := fileutil.Size(output)
	if err != nil {
		return clip.MaterializedSegment{}, fmt.Errorf("stat segment output: %w", err)
	}
	objMeta := describe(mappings, modes, meta, track.Name)
	obj, err := storage.Upload(ctx, c.deps.Store, output, key, objMeta)
	if err != nil {
		return clip.MaterializedSegment{}, err
	}
	if obj.Size != localSize {
		c.discard(ctx, logger, key)
		return clip.MaterializedSegment{}, fmt.Errorf("%w: %s stored %d bytes, local file has %d", ErrUploadMismatch, key, obj.Size, localSize)
	}

	logger.Info("segment materialized",
		logging.String("key", key),
		logging.String("extraction_type", objMeta[MetaExtractionType]),
		logging.String("extraction_mode", objMeta[MetaExtractionMode]),
		logging.Int("chunk_count", len(mappings)),
		logging.Float64("duration_seconds", meta.Duration),
		logging.Int64("size", localSize),
		logging.Duration("elapsed", time.Since(started)),
	)
	return clip.MaterializedSegment{
		Index:      req.Index,
		Key:        key,
		Duration:   meta.Duration,
		Size:       localSize,
		Resolution: meta.Resolution,
		Width:      meta.Width,
		Height:     meta.Height,
	}, nil
}

// extractChunk downloads one chunk and cuts its mapped range into output. The
// downloaded chunk is removed once the cut exists.
func (c *Composer) extractChunk(ctx context.Context, dir string, i int, m chunkmap.Mapping, output string) (transcode.ExtractResult, error) {
	ext := path.Ext(m.Chunk.Locator)
	if ext == "" {
		ext = ".ts"
	}
	source := filepath.Join(dir, fmt.Sprintf("source-%03d%s", i, ext))
	if _, err := storage.Download(ctx, c.deps.Store, m.Chunk.Locator, source); err != nil {
		return transcode.ExtractResult{}, fmt.Errorf("fetch chunk %d (%s): %w", m.Chunk.Sequence, m.Chunk.Locator, err)
	}
	res, err := c.deps.Media.Extract(ctx, transcode.ExtractRequest{
		Input:    source,
		Output:   output,
		Start:    m.StartOffset,
		Duration: m.Duration,
	})
	if err != nil {
		return transcode.ExtractResult{}, fmt.Errorf("extract chunk %d: %w", m.Chunk.Sequence, err)
	}
	if res.Mode == transcode.ModeCopy {
		c.deps.Metrics.IncTranscodeFallback()
	}
	_ = os.Remove(source)
	return res, nil
}

func (c *Composer) discard(ctx context.Context, logger *slog.Logger, key string) {
	failures, err := c.deps.Store.Delete(context.WithoutCancel(ctx), key)
	if err == nil && len(failures) == 0 {
		return
	}
	if err == nil {
		err = failures[0].Err
	}
	logging.WarnWithContext(logger, "could not remove mismatched segment object", "compose_discard_failed",
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldImpact, "a corrupt segment object may be reused on retry"),
		logging.String(logging.FieldErrorHint, "delete the object manually before resubmitting"),
	)
}

func describe(mappings []chunkmap.Mapping, modes []transcode.Mode, meta transcode.Metadata, track string) map[string]string {
	sources := make([]string, len(mappings))
	offsets := make([]string, len(mappings))
	for i, m := range mappings {
		sources[i] = m.Chunk.Locator
		offsets[i] = timecode.Seconds(m.StartOffset) + "-" + timecode.Seconds(m.EndOffset)
	}
	extractionType := TypeSingle
	if len(mappings) > 1 {
		extractionType = TypeMulti
	}
	out := map[string]string{
		MetaExtractionType: extractionType,
		MetaExtractionMode: summarizeModes(modes),
		MetaSourceChunks:   strings.Join(sources, ","),
		MetaChunkOffsets:   strings.Join(offsets, ","),
		MetaDuration:       timecode.Seconds(meta.Duration),
		MetaWidth:          strconv.Itoa(meta.Width),
		MetaHeight:         strconv.Itoa(meta.Height),
		MetaResolution:     string(meta.Resolution),
		MetaVideoCodec:     meta.VideoCodec,
		MetaAudioCodec:     meta.AudioCodec,
	}
	if track != "" {
		out[MetaTrack] = track
	}
	return out
}

func summarizeModes(modes []transcode.Mode) string {
	if len(modes) == 0 {
		return ""
	}
	for _, m := range modes[1:] {
		if m != modes[0] {
			return "mixed"
		}
	}
	return string(modes[0])
}

// fromObject rebuilds a materialized segment from stored object metadata.
func fromObject(index int, obj storage.Object) clip.MaterializedSegment {
	duration, _ := strconv.ParseFloat(obj.Metadata[MetaDuration], 64)
	width, _ := strconv.Atoi(obj.Metadata[MetaWidth])
	height, _ := strconv.Atoi(obj.Metadata[MetaHeight])
	res := clip.Resolution(obj.Metadata[MetaResolution])
	if res == clip.ResolutionUnknown {
		res = clip.ClassifyResolution(width, height)
	}
	return clip.MaterializedSegment{
		Index:      index,
		Key:        obj.Key,
		Duration:   duration,
		Size:       obj.Size,
		Resolution: res,
		Width:      width,
		Height:     height,
		Reused:     true,
	}
}

