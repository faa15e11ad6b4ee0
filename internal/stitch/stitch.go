// Package stitch assembles materialized segments into the final clip.
//
// Segments are joined in the order the caller supplies; the stitcher never
// re-sorts them. After a verified upload the intermediate segment objects are
// deleted in one batch. A failed deletion costs storage, not correctness, so it
// is reported and logged but never fails the stitch.
package stitch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clipstitch/internal/clip"
	"clipstitch/internal/fileutil"
	"clipstitch/internal/logging"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/storage"
	"clipstitch/internal/transcode"
)

// Object metadata keys written on the final clip.
const (
	MetaDuration     = "duration"
	MetaWidth        = "width"
	MetaHeight       = "height"
	MetaResolution   = "resolution"
	MetaVideoCodec   = "video-codec"
	MetaAudioCodec   = "audio-codec"
	MetaBitRate      = "bit-rate"
	MetaSegmentCount = "segment-count"
)

// verifiedKeys is the metadata subset compared after upload.
var verifiedKeys = []string{MetaDuration, MetaResolution, MetaVideoCodec, MetaAudioCodec, MetaSegmentCount}

// ErrVerificationFailed reports a stored clip that does not match the local file.
var ErrVerificationFailed = fmt.Errorf("%w: clip verification failed", services.ErrTransient)

// Media is the transcoder surface the stitcher needs.
type Media interface {
	Concat(ctx context.Context, inputs []string, output string) (transcode.Metadata, error)
}

// Options tune downloads, tolerances and scratch space.
type Options struct {
	WorkDir           string
	Extension         string
	DownloadAttempts  int
	DownloadBackoff   time.Duration
	DurationTolerance float64
}

// Request names the clip and its segments in final order.
type Request struct {
	EpisodeID string
	ClipID    string
	Segments  []clip.MaterializedSegment
}

// Verification reports the post-upload checks.
type Verification struct {
	SizeMatch        bool     `json:"size_match"`
	MetadataMatch    bool     `json:"metadata_match"`
	Mismatched       []string `json:"mismatched,omitempty"`
	ExpectedDuration float64  `json:"expected_duration"`
	DurationDrift    float64  `json:"duration_drift"`
}

// Cleanup reports which intermediate objects were removed.
type Cleanup struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Result describes the materialized clip.
type Result struct {
	ClipID       string             `json:"clip_id"`
	Key          string             `json:"key"`
	Size         int64              `json:"size"`
	Duration     float64            `json:"duration"`
	Resolution   clip.Resolution    `json:"resolution"`
	Metadata     transcode.Metadata `json:"metadata"`
	Verification Verification       `json:"verification"`
	Cleanup      Cleanup            `json:"cleanup"`
}

// Stitcher joins segments into clips.
type Stitcher struct {
	store   storage.Store
	media   Media
	metrics *metrics.Pipeline
	opts    Options
	logger  *slog.Logger
}

// New returns a Stitcher.
func New(store storage.Store, media Media, m *metrics.Pipeline, opts Options, logger *slog.Logger) *Stitcher {
	if opts.DownloadAttempts <= 0 {
		opts.DownloadAttempts = 3
	}
	if opts.DownloadBackoff <= 0 {
		opts.DownloadBackoff = 500 * time.Millisecond
	}
	if strings.TrimSpace(opts.Extension) == "" {
		opts.Extension = "mp4"
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	return &Stitcher{
		store:   store,
		media:   media,
		metrics: m,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "stitch"),
	}
}

func (r Request) validate() error {
	if err := clip.ValidateID("episodeId", r.EpisodeID); err != nil {
		return err
	}
	if err := clip.ValidateID("clipId", r.ClipID); err != nil {
		return err
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("%w: clip %s has no segments to stitch", services.ErrValidation, r.ClipID)
	}
	for i, seg := range r.Segments {
		if strings.TrimSpace(seg.Key) == "" {
			return fmt.Errorf("%w: segment at position %d has no key", services.ErrValidation, i)
		}
	}
	return nil
}

// Stitch downloads, joins, uploads and verifies the clip, then removes the
// segment objects.
func (s *Stitcher) Stitch(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	ctx = services.WithClipID(services.WithEpisodeID(ctx, req.EpisodeID), req.ClipID)
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()

	dir, cleanup, err := fileutil.ScratchDir(s.opts.WorkDir, req.ClipID+"-stitch-*")
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logging.WarnWithContext(logger, "scratch cleanup failed", "stitch_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch files remain on local disk"),
				logging.String(logging.FieldErrorHint, "check permissions of the work directory"),
			)
		}
	}()

	locals := make([]string, len(req.Segments))
	expected := 0.0
	for i, seg := range req.Segments {
		local := filepath.Join(dir, fmt.Sprintf("segment-%03d.%s", i, s.opts.Extension))
		if err := s.download(ctx, logger, seg.Key, local); err != nil {
			return Result{}, err
		}
		locals[i] = local
		expected += seg.Duration
	}

	output := filepath.Join(dir, "clip."+s.opts.Extension)
	meta, err := s.media.Concat(ctx, locals, output)
	if err != nil {
		return Result{}, fmt.Errorf("join %d segments: %w", len(locals), err)
	}
	localSize, err := fileutil.Size(output)
	if err != nil {
		return Result{}, fmt.Errorf("stat clip output: %w", err)
	}
	meta.Size = localSize

	key := clip.ClipKey(req.EpisodeID, req.ClipID, s.opts.Extension)
	objMeta := describe(meta, len(req.Segments))
	if _, err := storage.Upload(ctx, s.store, output, key, objMeta); err != nil {
		return Result{}, err
	}

	verification, err := s.verify(ctx, key, localSize, objMeta)
	if err != nil {
		return Result{}, err
	}
	verification.ExpectedDuration = expected
	verification.DurationDrift = math.Abs(meta.Duration - expected)
	if s.opts.DurationTolerance > 0 && verification.DurationDrift > s.opts.DurationTolerance {
		logging.WarnWithContext(logger, "clip duration drifts from segment total", "stitch_duration_drift",
			logging.Float64("expected_seconds", expected),
			logging.Float64("actual_seconds", meta.Duration),
			logging.Float64("drift_seconds", verification.DurationDrift),
			logging.String(logging.FieldImpact, "clip is shorter or longer than the requested segments"),
			logging.String(logging.FieldErrorHint, "inspect segment timestamps for gaps"),
		)
	}

	report := s.removeSegments(ctx, logger, req.Segments)

	logger.Info("clip stitched",
		logging.String("key", key),
		logging.Int("segment_count", len(req.Segments)),
		logging.Float64("duration_seconds", meta.Duration),
		logging.Int64("size", localSize),
		logging.String("resolution", string(meta.Resolution)),
		logging.Int("segments_deleted", len(report.Deleted)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return Result{
		ClipID:       req.ClipID,
		Key:          key,
		Size:         localSize,
		Duration:     meta.Duration,
		Resolution:   meta.Resolution,
		Metadata:     meta,
		Verification: verification,
		Cleanup:      report,
	}, nil
}

func (s *Stitcher) download(ctx context.Context, logger *slog.Logger, key, local string) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		n, err := storage.Download(ctx, s.store, key, local)
		if err != nil && ctx.Err() != nil {
			return n, backoff.Permanent(err)
		}
		return n, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.DownloadBackoff)),
		backoff.WithMaxTries(uint(s.opts.DownloadAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("segment download failed; retrying",
				logging.String("key", key),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("download segment %s after %d attempts: %w", key, attempt, err)
	}
	return nil
}

func (s *Stitcher) verify(ctx context.Context, key string, localSize int64, sent map[string]string) (Verification, error) {
	obj, err := s.store.Head(ctx, key)
	if err != nil {
		return Verification{}, fmt.Errorf("verify clip %s: %w", key, err)
	}
	v := Verification{SizeMatch: obj.Size == localSize, MetadataMatch: true}
	for _, k := range verifiedKeys {
		if obj.Metadata[k] != sent[k] {
			v.MetadataMatch = false
			v.Mismatched = append(v.Mismatched, k)
		}
	}
	if v.SizeMatch && v.MetadataMatch {
		return v, nil
	}
	if _, delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
		s.logger.Debug("failed to remove unverified clip", logging.String("key", key), logging.Error(delErr))
	}
	var problems []string
	if !v.SizeMatch {
		problems = append(problems, fmt.Sprintf("stored %d bytes, local file has %d", obj.Size, localSize))
	}
	if !v.MetadataMatch {
		problems = append(problems, "metadata mismatch on "+strings.Join(v.Mismatched, ","))
	}
	return v, fmt.Errorf("%w: %s: %s", ErrVerificationFailed, key, strings.Join(problems, "; "))
}

func (s *Stitcher) removeSegments(ctx context.Context, logger *slog.Logger, segments []clip.MaterializedSegment) Cleanup {
	keys := make([]string, len(segments))
	for i, seg := range segments {
		keys[i] = seg.Key
	}
	failures, err := s.store.Delete(ctx, keys...)
	failed := make(map[string]error, len(failures))
	for _, f := range failures {
		failed[f.Key] = f.Err
	}
	if err != nil {
		for _, k := range keys {
			failed[k] = err
		}
	}

	var report Cleanup
	var failedKeys []string
	for _, k := range keys {
		ferr, ok := failed[k]
		if !ok {
			report.Deleted = append(report.Deleted, k)
			continue
		}
		if report.Failed == nil {
			report.Failed = make(map[string]string)
		}
		report.Failed[k] = ferr.Error()
		failedKeys = append(failedKeys, k)
	}
	if len(failedKeys) > 0 {
		s.metrics.AddCleanupFailures(len(failedKeys))
		logging.WarnWithContext(logger, "some segment objects were not deleted", "stitch_partial_cleanup",
			logging.Int("deleted", len(report.Deleted)),
			logging.Strings("failed_keys", failedKeys),
			logging.Error(failed[failedKeys[0]]),
			logging.String(logging.FieldImpact, "intermediate objects keep consuming storage"),
			logging.String(logging.FieldErrorHint, "delete the listed keys manually"),
		)
	}
	return report
}

func describe(meta transcode.Metadata, segmentCount int) map[string]string {
	out := map[string]string{
		MetaDuration:     strconv.FormatFloat(meta.Duration, 'f', 3, 64),
		MetaWidth:        strconv.Itoa(meta.Width),
		MetaHeight:       strconv.Itoa(meta.Height),
		MetaResolution:   string(meta.Resolution),
		MetaVideoCodec:   meta.VideoCodec,
		MetaAudioCodec:   meta.AudioCodec,
		MetaSegmentCount: strconv.Itoa(segmentCount),
	}
	if meta.BitRate > 0 {
		out[MetaBitRate] = strconv.FormatInt(meta.BitRate, 10)
	}
	return out
}
