package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"clipstitch/internal/api"
	"clipstitch/internal/clip"
	"clipstitch/internal/timecode"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

var titler = cases.Title(language.English)

// statusLabel turns a status name such as "SegmentsExtracting" into
// "Segments Extracting".
func statusLabel(status string) string {
	var words []string
	var current []rune
	for _, r := range status {
		if unicode.IsUpper(r) && len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		words = append(words, string(current))
	}
	return titler.String(strings.ToLower(strings.Join(words, " ")))
}

func statusColor(status string) string {
	parsed, ok := clip.ParseStatus(status)
	if !ok {
		switch status {
		case string(clip.SegmentExtracted), string(clip.SegmentReused):
			return ansiGreen
		case string(clip.SegmentFailed):
			return ansiRed
		}
		return ansiYellow
	}
	switch parsed {
	case clip.StatusComplete:
		return ansiGreen
	case clip.StatusFailed:
		return ansiRed
	default:
		return ansiYellow
	}
}

func renderStatus(status string, colorize bool) string {
	label := statusLabel(status)
	if !colorize {
		return label
	}
	return statusColor(status) + label + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func historyDetail(e api.HistoryEntry) string {
	var parts []string
	if e.Error != "" {
		parts = append(parts, e.Error)
	}
	if e.Interrupted {
		parts = append(parts, "interrupted")
	}
	if e.SegmentIndex > 0 {
		parts = append(parts, fmt.Sprintf("segment %d", e.SegmentIndex))
	}
	if e.SegmentCount > 0 {
		parts = append(parts, fmt.Sprintf("%d segments", e.SegmentCount))
	}
	if e.Key != "" {
		parts = append(parts, e.Key)
	}
	if e.Size > 0 {
		parts = append(parts, formatBytes(e.Size))
	}
	if e.DurationSeconds > 0 {
		parts = append(parts, timecode.Format(e.DurationSeconds))
	}
	if e.ProcessingSeconds > 0 {
		parts = append(parts, "took "+timecode.Duration(e.ProcessingSeconds).Round(time.Millisecond).String())
	}
	return strings.Join(parts, ", ")
}

func renderSegments(segments []clip.Segment) string {
	rows := make([][]string, 0, len(segments))
	for _, seg := range segments {
		rows = append(rows, []string{
			strconv.Itoa(seg.Order),
			timecode.Format(seg.Start),
			timecode.Format(seg.End),
			timecode.Format(seg.Duration()),
			seg.Speaker,
		})
	}
	return renderTable(
		[]string{"Order", "Start", "End", "Length", "Speaker"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func renderHistory(history []api.HistoryEntry, colorize bool) string {
	rows := make([][]string, 0, len(history))
	for i, e := range history {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			renderStatus(e.Status, colorize),
			e.Timestamp,
			e.RunID,
			historyDetail(e),
		})
	}
	return renderTable(
		[]string{"#", "Status", "Timestamp", "Run", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
