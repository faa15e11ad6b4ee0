package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clipstitch/internal/clip"
	"clipstitch/internal/config"
	"clipstitch/internal/logging"
	"clipstitch/internal/media/ffprobe"
	"clipstitch/internal/media/proc"
	"clipstitch/internal/services"
	"clipstitch/internal/timecode"
)

var (
	// ErrTranscodeFailed reports that no extraction strategy produced a usable file.
	ErrTranscodeFailed = fmt.Errorf("%w: transcode failed", services.ErrExternalTool)
	// ErrIncompatibleParts reports inputs that cannot be joined with stream copy.
	ErrIncompatibleParts = fmt.Errorf("%w: incompatible parts", ErrTranscodeFailed)
	// ErrProbeFailed reports an ffprobe invocation or decode failure.
	ErrProbeFailed = fmt.Errorf("%w: probe failed", services.ErrExternalTool)
)

// Mode names the strategy that produced an extraction.
type Mode string

const (
	ModeReencode Mode = "reencode"
	ModeCopy     Mode = "copy"
)

// Options configures the external tools and the normalized codec set.
type Options struct {
	FFmpegBinary  string
	FFprobeBinary string
	VideoCodec    string
	Preset        string
	CRF           int
	AudioCodec    string
	AudioBitrate  string
}

// OptionsFromConfig maps the transcode config section onto Options.
func OptionsFromConfig(cfg config.Transcode) Options {
	return Options{
		FFmpegBinary:  cfg.FFmpegBinary,
		FFprobeBinary: cfg.FFprobeBinary,
		VideoCodec:    cfg.VideoCodec,
		Preset:        cfg.Preset,
		CRF:           cfg.CRF,
		AudioCodec:    cfg.AudioCodec,
		AudioBitrate:  cfg.AudioBitrate,
	}
}

func (o Options) withDefaults() Options {
	defaults := config.Default().Transcode
	if strings.TrimSpace(o.FFmpegBinary) == "" {
		o.FFmpegBinary = defaults.FFmpegBinary
	}
	if strings.TrimSpace(o.FFprobeBinary) == "" {
		o.FFprobeBinary = defaults.FFprobeBinary
	}
	if strings.TrimSpace(o.VideoCodec) == "" {
		o.VideoCodec = defaults.VideoCodec
	}
	if strings.TrimSpace(o.Preset) == "" {
		o.Preset = defaults.Preset
	}
	if o.CRF <= 0 {
		o.CRF = defaults.CRF
	}
	if strings.TrimSpace(o.AudioCodec) == "" {
		o.AudioCodec = defaults.AudioCodec
	}
	if strings.TrimSpace(o.AudioBitrate) == "" {
		o.AudioBitrate = defaults.AudioBitrate
	}
	return o
}

// Metadata is the probed description of a media file.
type Metadata struct {
	Duration   float64         `json:"duration"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	VideoCodec string          `json:"video_codec,omitempty"`
	AudioCodec string          `json:"audio_codec,omitempty"`
	BitRate    int64           `json:"bit_rate,omitempty"`
	Size       int64           `json:"size"`
	Resolution clip.Resolution `json:"resolution,omitempty"`
	HasVideo   bool            `json:"has_video"`
	HasAudio   bool            `json:"has_audio"`
}

// ExtractRequest describes one time range to cut from Input into Output.
type ExtractRequest struct {
	Input    string
	Output   string
	Start    float64
	Duration float64
}

// ExtractResult reports how an extraction was produced.
type ExtractResult struct {
	Mode     Mode
	Metadata Metadata
}

// FFmpeg runs extraction, concatenation and probing through ffmpeg/ffprobe.
type FFmpeg struct {
	opts   Options
	logger *slog.Logger
}

// New returns an adapter using opts. Blank fields take the config defaults.
func New(opts Options, logger *slog.Logger) *FFmpeg {
	return &FFmpeg{
		opts:   opts.withDefaults(),
		logger: logging.NewComponentLogger(logger, "transcode"),
	}
}

// Extract cuts req's range, falling back from re-encode to stream copy.
func (f *FFmpeg) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return ExtractResult{}, fmt.Errorf("%w: extract requires input and output paths", services.ErrValidation)
	}
	if math.IsNaN(req.Start) || req.Start < 0 || math.IsNaN(req.Duration) || req.Duration <= 0 {
		return ExtractResult{}, fmt.Errorf("%w: extract range start=%v duration=%v", services.ErrValidation, req.Start, req.Duration)
	}
	logger := logging.WithContext(ctx, f.logger)

	meta, reencodeErr := f.attempt(ctx, req, f.reencodeArgs(req))
	if reencodeErr == nil {
		return ExtractResult{Mode: ModeReencode, Metadata: meta}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExtractResult{}, fmt.Errorf("extract %s: %w", filepath.Base(req.Input), ctxErr)
	}
	logging.WarnWithContext(logger, "re-encode failed; retrying with stream copy", "transcode_fallback",
		logging.String("input", req.Input),
		logging.Error(reencodeErr),
		logging.String(logging.FieldImpact, "segment keeps the source codecs"),
		logging.String(logging.FieldErrorHint, "check the source chunk codecs and the configured encoder"),
	)

	meta, copyErr := f.attempt(ctx, req, f.copyArgs(req))
	if copyErr == nil {
		return ExtractResult{Mode: ModeCopy, Metadata: meta}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExtractResult{}, fmt.Errorf("extract %s: %w", filepath.Base(req.Input), ctxErr)
	}
	_ = os.Remove(req.Output)
	return ExtractResult{}, fmt.Errorf("%w: %s: %w", ErrTranscodeFailed, filepath.Base(req.Input),
		errors.Join(fmt.Errorf("reencode: %w", reencodeErr), fmt.Errorf("copy: %w", copyErr)))
}

func (f *FFmpeg) attempt(ctx context.Context, req ExtractRequest, args []string) (Metadata, error) {
	if _, err := proc.Run(ctx, f.opts.FFmpegBinary, args...); err != nil {
		return Metadata{}, err
	}
	meta, err := f.Probe(ctx, req.Output)
	if err != nil {
		return Metadata{}, err
	}
	if math.IsNaN(meta.Duration) || meta.Duration <= 0 {
		return Metadata{}, fmt.Errorf("output %s has zero duration", filepath.Base(req.Output))
	}
	f.warnMissingStreams(ctx, req.Output, meta)
	return meta, nil
}

func (f *FFmpeg) warnMissingStreams(ctx context.Context, path string, meta Metadata) {
	var missing []string
	if !meta.HasVideo {
		missing = append(missing, "video")
	}
	if !meta.HasAudio {
		missing = append(missing, "audio")
	}
	if len(missing) == 0 {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, f.logger), "extracted file is missing streams", "transcode_stream_missing",
		logging.String("output", path),
		logging.Strings("missing", missing),
		logging.String(logging.FieldImpact, "the clip may play without picture or sound"),
		logging.String(logging.FieldErrorHint, "inspect the source chunk with ffprobe"),
	)
}

func (f *FFmpeg) reencodeArgs(req ExtractRequest) []string {
	return []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", timecode.Seconds(req.Start),
		"-i", req.Input,
		"-t", timecode.Seconds(req.Duration),
		"-map", "0:v:0?", "-map", "0:a:0?",
		"-c:v", f.opts.VideoCodec,
		"-preset", f.opts.Preset,
		"-crf", strconv.Itoa(f.opts.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", f.opts.AudioCodec,
		"-b:a", f.opts.AudioBitrate,
		"-movflags", "+faststart",
		req.Output,
	}
}

func (f *FFmpeg) copyArgs(req ExtractRequest) []string {
	return []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", timecode.Seconds(req.Start),
		"-i", req.Input,
		"-t", timecode.Seconds(req.Duration),
		"-map", "0",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		req.Output,
	}
}

// Concat joins inputs in order with stream copy. Inputs must share video
// codec, frame size and audio codec.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) (Metadata, error) {
	if len(inputs) == 0 {
		return Metadata{}, fmt.Errorf("%w: concat requires at least one input", services.ErrValidation)
	}
	if strings.TrimSpace(output) == "" {
		return Metadata{}, fmt.Errorf("%w: concat requires an output path", services.ErrValidation)
	}
	if err := f.checkCompatible(ctx, inputs); err != nil {
		return Metadata{}, err
	}

	listPath := filepath.Join(filepath.Dir(output), "concat-"+strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))+".txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return Metadata{}, err
	}
	defer os.Remove(listPath)

	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
	if _, err := proc.Run(ctx, f.opts.FFmpegBinary, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, fmt.Errorf("concat %s: %w", filepath.Base(output), ctxErr)
		}
		return Metadata{}, fmt.Errorf("%w: concat %d inputs: %w", ErrTranscodeFailed, len(inputs), err)
	}
	meta, err := f.Probe(ctx, output)
	if err != nil {
		return Metadata{}, err
	}
	if math.IsNaN(meta.Duration) || meta.Duration <= 0 {
		return Metadata{}, fmt.Errorf("%w: concatenated output has zero duration", ErrTranscodeFailed)
	}
	return meta, nil
}

func (f *FFmpeg) checkCompatible(ctx context.Context, inputs []string) error {
	var first Metadata
	for i, input := range inputs {
		meta, err := f.Probe(ctx, input)
		if err != nil {
			return err
		}
		if i == 0 {
			first = meta
			continue
		}
		if diff := describeMismatch(first, meta); diff != "" {
			return fmt.Errorf("%w: %s differs from %s: %s", ErrIncompatibleParts, filepath.Base(input), filepath.Base(inputs[0]), diff)
		}
	}
	return nil
}

func describeMismatch(want, got Metadata) string {
	var diffs []string
	if want.VideoCodec != got.VideoCodec {
		diffs = append(diffs, fmt.Sprintf("video codec %q vs %q", got.VideoCodec, want.VideoCodec))
	}
	if want.Width != got.Width || want.Height != got.Height {
		diffs = append(diffs, fmt.Sprintf("frame %dx%d vs %dx%d", got.Width, got.Height, want.Width, want.Height))
	}
	if want.AudioCodec != got.AudioCodec {
		diffs = append(diffs, fmt.Sprintf("audio codec %q vs %q", got.AudioCodec, want.AudioCodec))
	}
	return strings.Join(diffs, ", ")
}

func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("resolve concat input %s: %w", input, err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// Probe inspects path and returns its metadata.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Metadata, error) {
	result, err := ffprobe.Inspect(ctx, f.opts.FFprobeBinary, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, fmt.Errorf("probe %s: %w", filepath.Base(path), ctxErr)
		}
		return Metadata{}, fmt.Errorf("%w: %s: %w", ErrProbeFailed, filepath.Base(path), err)
	}
	meta := Metadata{
		Duration: result.DurationSeconds(),
		BitRate:  result.BitRate(),
		Size:     result.SizeBytes(),
	}
	if video, ok := result.FirstVideo(); ok {
		meta.HasVideo = true
		meta.VideoCodec = video.CodecName
		meta.Width = video.Width
		meta.Height = video.Height
		meta.Resolution = clip.ClassifyResolution(video.Width, video.Height)
	}
	if audio, ok := result.FirstAudio(); ok {
		meta.HasAudio = true
		meta.AudioCodec = audio.CodecName
	}
	if meta.Size == 0 {
		if info, statErr := os.Stat(path); statErr == nil {
			meta.Size = info.Size()
		}
	}
	return meta, nil
}

