package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"clipstitch/internal/clip"
	"clipstitch/internal/services"
	"clipstitch/internal/testsupport"
)

const probeHD = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"12.000","size":"2048","bit_rate":"1000"}}`

const probeFullHD = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"4.000","size":"4096"}}`

const probeAudioOnly = `{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"3.000"}}`

const probeEmpty = `{"streams":[],"format":{"duration":"0"}}`

type toolbox struct {
	dir     string
	log     string
	adapter *FFmpeg
}

// ffmpegScript logs each invocation, copies any concat list into the log and
// writes "media" to the final argument. failOn makes invocations whose argument
// list contains the pattern exit 1.
func ffmpegScript(logPath, failOn string) string {
	var b strings.Builder
	b.WriteString("echo \"ffmpeg $*\" >> '" + logPath + "'\n")
	b.WriteString("prev=''\nfor arg; do\n  if [ \"$prev\" = '-i' ]; then case \"$arg\" in *.txt) cat \"$arg\" >> '" + logPath + "';; esac; fi\n  prev=\"$arg\"\n  last=\"$arg\"\ndone\n")
	if failOn != "" {
		b.WriteString("case \"$*\" in *" + failOn + "*) echo 'encoder exploded' >&2; exit 1;; esac\n")
	}
	b.WriteString("printf 'media' > \"$last\"\n")
	return b.String()
}

// ffprobeScript prints <path>.probe when present and the default payload otherwise.
func ffprobeScript(defaultPayload string) string {
	return "for arg; do last=\"$arg\"; done\nif [ -f \"$last.probe\" ]; then cat \"$last.probe\"; else cat <<'JSON'\n" + defaultPayload + "\nJSON\nfi\n"
}

func newToolbox(t *testing.T, failOn, defaultProbe string) *toolbox {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a unix shell")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	ffmpeg := testsupport.WriteScript(t, filepath.Join(dir, "bin", "ffmpeg"), ffmpegScript(logPath, failOn))
	ffprobe := testsupport.WriteScript(t, filepath.Join(dir, "bin", "ffprobe"), ffprobeScript(defaultProbe))
	return &toolbox{
		dir:     dir,
		log:     logPath,
		adapter: New(Options{FFmpegBinary: ffmpeg, FFprobeBinary: ffprobe}, nil),
	}
}

func (tb *toolbox) calls(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(tb.log)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func (tb *toolbox) file(t *testing.T, name, probe string) string {
	t.Helper()
	path := filepath.Join(tb.dir, name)
	testsupport.WriteFile(t, path, 16)
	if probe != "" {
		if err := os.WriteFile(path+".probe", []byte(probe), 0o644); err != nil {
			t.Fatalf("write probe: %v", err)
		}
	}
	return path
}

func TestExtractReencodes(t *testing.T) {
	tb := newToolbox(t, "", probeHD)
	input := tb.file(t, "chunk_000.ts", "")
	res, err := tb.adapter.Extract(context.Background(), ExtractRequest{
		Input:    input,
		Output:   filepath.Join(tb.dir, "out.mp4"),
		Start:    30,
		Duration: 12,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Mode != ModeReencode {
		t.Fatalf("expected reencode, got %s", res.Mode)
	}
	if res.Metadata.Resolution != clip.ResolutionHD || res.Metadata.VideoCodec != "h264" || res.Metadata.Duration != 12 {
		t.Fatalf("unexpected metadata %+v", res.Metadata)
	}
	calls := tb.calls(t)
	for _, fragment := range []string{"-ss 30.000", "-t 12.000", "-c:v libx264", "-preset veryfast", "-crf 18", "-c:a aac", "-b:a 192k"} {
		if !strings.Contains(calls, fragment) {
			t.Fatalf("expected %q in %q", fragment, calls)
		}
	}
	if strings.Contains(calls, "-c copy") {
		t.Fatalf("unexpected stream copy attempt: %q", calls)
	}
}

func TestExtractFallsBackToCopy(t *testing.T) {
	tb := newToolbox(t, "libx264", probeHD)
	input := tb.file(t, "chunk_000.ts", "")
	res, err := tb.adapter.Extract(context.Background(), ExtractRequest{
		Input:    input,
		Output:   filepath.Join(tb.dir, "out.mp4"),
		Start:    0,
		Duration: 5,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Mode != ModeCopy {
		t.Fatalf("expected copy fallback, got %s", res.Mode)
	}
	if got := strings.Count(tb.calls(t), "ffmpeg "); got != 2 {
		t.Fatalf("expected two ffmpeg invocations, got %d", got)
	}
	if !strings.Contains(tb.calls(t), "-avoid_negative_ts make_zero") {
		t.Fatal("copy attempt missing timestamp normalization")
	}
}

func TestExtractFailsWhenBothStrategiesFail(t *testing.T) {
	tb := newToolbox(t, "-ss", probeHD)
	input := tb.file(t, "chunk_000.ts", "")
	output := filepath.Join(tb.dir, "out.mp4")
	_, err := tb.adapter.Extract(context.Background(), ExtractRequest{Input: input, Output: output, Duration: 5})
	if !errors.Is(err, ErrTranscodeFailed) || !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrTranscodeFailed, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "reencode:") || !strings.Contains(msg, "copy:") || !strings.Contains(msg, "encoder exploded") {
		t.Fatalf("expected both causes in %q", msg)
	}
	if services.Retryable(err) {
		t.Fatal("transcode failures must not be retryable")
	}
}

func TestExtractRejectsZeroDurationOutput(t *testing.T) {
	tb := newToolbox(t, "", probeEmpty)
	input := tb.file(t, "chunk_000.ts", "")
	_, err := tb.adapter.Extract(context.Background(), ExtractRequest{Input: input, Output: filepath.Join(tb.dir, "out.mp4"), Duration: 5})
	if !errors.Is(err, ErrTranscodeFailed) || !strings.Contains(err.Error(), "zero duration") {
		t.Fatalf("expected zero duration failure, got %v", err)
	}
}

func TestExtractMissingStreamIsWarningOnly(t *testing.T) {
	tb := newToolbox(t, "", probeAudioOnly)
	input := tb.file(t, "chunk_000.ts", "")
	res, err := tb.adapter.Extract(context.Background(), ExtractRequest{Input: input, Output: filepath.Join(tb.dir, "out.mp4"), Duration: 3})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Metadata.HasVideo || !res.Metadata.HasAudio {
		t.Fatalf("unexpected stream flags %+v", res.Metadata)
	}
}

func TestExtractValidatesRange(t *testing.T) {
	tb := newToolbox(t, "", probeHD)
	if _, err := tb.adapter.Extract(context.Background(), ExtractRequest{Input: "a", Output: "b", Start: 1, Duration: 0}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tb.calls(t) != "" {
		t.Fatal("ffmpeg must not run for an invalid range")
	}
}

func TestExtractHonorsCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a unix shell")
	}
	dir := t.TempDir()
	ffmpeg := testsupport.WriteScript(t, filepath.Join(dir, "ffmpeg"), "sleep 30\n")
	adapter := New(Options{FFmpegBinary: ffmpeg, FFprobeBinary: ffmpeg}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := adapter.Extract(ctx, ExtractRequest{Input: "in.ts", Output: filepath.Join(dir, "out.mp4"), Duration: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if errors.Is(err, ErrTranscodeFailed) {
		t.Fatal("a timed out extraction is not a media failure")
	}
	if time.Since(started) > 10*time.Second {
		t.Fatal("extraction was not killed on timeout")
	}
}

func TestConcatWritesOrderedList(t *testing.T) {
	tb := newToolbox(t, "", probeHD)
	a := tb.file(t, "part-000.mp4", probeHD)
	b := tb.file(t, "it's part-001.mp4", probeHD)
	output := filepath.Join(tb.dir, "segment.mp4")

	meta, err := tb.adapter.Concat(context.Background(), []string{a, b}, output)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if meta.Duration != 12 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	calls := tb.calls(t)
	first := strings.Index(calls, "file '"+a+"'")
	second := strings.Index(calls, `file '`+filepath.Join(tb.dir, `it'\''s part-001.mp4`)+`'`)
	if first < 0 || second < 0 || second < first {
		t.Fatalf("concat list not ordered or not escaped:\n%s", calls)
	}
	if !strings.Contains(calls, "-f concat -safe 0") || !strings.Contains(calls, "-c copy") {
		t.Fatalf("expected stream copy concat, got %q", calls)
	}
	if _, err := os.Stat(filepath.Join(tb.dir, "concat-segment.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("concat list was not removed")
	}
}

func TestConcatRejectsIncompatibleParts(t *testing.T) {
	tb := newToolbox(t, "", probeHD)
	a := tb.file(t, "part-000.mp4", probeHD)
	b := tb.file(t, "part-001.mp4", probeFullHD)
	_, err := tb.adapter.Concat(context.Background(), []string{a, b}, filepath.Join(tb.dir, "segment.mp4"))
	if !errors.Is(err, ErrIncompatibleParts) || !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("expected ErrIncompatibleParts, got %v", err)
	}
	if !strings.Contains(err.Error(), "frame 1920x1080 vs 1280x720") {
		t.Fatalf("expected frame size detail, got %v", err)
	}
	if strings.Contains(tb.calls(t), "ffmpeg") {
		t.Fatal("ffmpeg must not run for incompatible parts")
	}
}

func TestConcatRequiresInputs(t *testing.T) {
	tb := newToolbox(t, "", probeHD)
	if _, err := tb.adapter.Concat(context.Background(), nil, "out.mp4"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProbeClassifiesResolution(t *testing.T) {
	tb := newToolbox(t, "", probeFullHD)
	path := tb.file(t, "clip.mp4", "")
	meta, err := tb.adapter.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Resolution != clip.ResolutionFullHD || meta.Width != 1920 || meta.Size != 4096 || !meta.HasAudio {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestProbeFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a unix shell")
	}
	dir := t.TempDir()
	ffprobe := testsupport.WriteScript(t, filepath.Join(dir, "ffprobe"), "echo 'Invalid data found' >&2\nexit 1\n")
	adapter := New(Options{FFprobeBinary: ffprobe}, nil)
	_, err := adapter.Probe(context.Background(), filepath.Join(dir, "x.mp4"))
	if !errors.Is(err, ErrProbeFailed) || !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected probe failure with stderr, got %v", err)
	}
}
