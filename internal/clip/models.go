package clip

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"clipstitch/internal/services"
)

// Segment is a caller-specified time range to include in a clip.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Track   string  `json:"track,omitempty"`
	Notes   string  `json:"notes,omitempty"`
	Order   int     `json:"order"`
}

// Duration returns the requested length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Validate checks the segment timing and ordering fields.
func (s Segment) Validate() error {
	switch {
	case !finite(s.Start) || !finite(s.End):
		return fmt.Errorf("%w: segment %d bounds must be finite", services.ErrValidation, s.Order)
	case s.Start < 0:
		return fmt.Errorf("%w: segment %d start %.3f is negative", services.ErrValidation, s.Order, s.Start)
	case s.End <= s.Start:
		return fmt.Errorf("%w: segment %d end %.3f must be after start %.3f", services.ErrValidation, s.Order, s.End, s.Start)
	case s.Order < 1:
		return fmt.Errorf("%w: segment order %d must be positive", services.ErrValidation, s.Order)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Input is one clip workflow request.
type Input struct {
	TenantID  string    `json:"tenantId"`
	EpisodeID string    `json:"episodeId"`
	ClipID    string    `json:"clipId"`
	Segments  []Segment `json:"segments"`
}

// Validate checks identifiers and every segment. All problems are reported.
func (in Input) Validate() error {
	var errs []error
	ids := []struct{ name, value string }{
		{"tenantId", in.TenantID},
		{"episodeId", in.EpisodeID},
		{"clipId", in.ClipID},
	}
	for _, id := range ids {
		if err := ValidateID(id.name, id.value); err != nil {
			errs = append(errs, err)
		}
	}
	if len(in.Segments) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one segment is required", services.ErrValidation))
	}
	seen := make(map[int]struct{}, len(in.Segments))
	for _, seg := range in.Segments {
		if err := seg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[seg.Order]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate segment order %d", services.ErrValidation, seg.Order))
		}
		seen[seg.Order] = struct{}{}
	}
	return errors.Join(errs...)
}

// Ordered returns a copy of the segments sorted by Order.
func (in Input) Ordered() []Segment {
	out := append([]Segment(nil), in.Segments...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ValidateID rejects identifiers that cannot be embedded in object keys.
func ValidateID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", services.ErrValidation, field)
	}
	if value == "." || value == ".." {
		return fmt.Errorf("%w: %s %q is not allowed", services.ErrValidation, field, value)
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %s %q contains %q", services.ErrValidation, field, value, r)
		}
	}
	return nil
}

// Status is the lifecycle of a clip workflow run.
type Status string

const (
	StatusPending            Status = "Pending"
	StatusInProgress         Status = "InProgress"
	StatusSegmentsExtracting Status = "SegmentsExtracting"
	StatusSegmentsComplete   Status = "SegmentsComplete"
	StatusStitching          Status = "Stitching"
	StatusComplete           Status = "Complete"
	StatusFailed             Status = "Failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusSegmentsExtracting,
	StatusSegmentsComplete,
	StatusStitching,
	StatusComplete,
	StatusFailed,
}

// Statuses returns every clip status in lifecycle order.
func Statuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// StatusNames returns the clip statuses as plain strings.
func StatusNames() []string {
	out := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		out[i] = string(s)
	}
	return out
}

var folder = cases.Fold()

// ParseStatus converts a status name in any letter case.
func ParseStatus(value string) (Status, bool) {
	needle := folder.String(strings.TrimSpace(value))
	for _, s := range allStatuses {
		if folder.String(string(s)) == needle {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is expected without resubmission.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// SegmentStatus is the lifecycle of one segment within a run.
type SegmentStatus string

const (
	SegmentExtracting SegmentStatus = "Extracting"
	SegmentExtracted  SegmentStatus = "Extracted"
	SegmentReused     SegmentStatus = "Reused"
	SegmentFailed     SegmentStatus = "Failed"
)

// SegmentStatusNames returns the segment statuses as plain strings.
func SegmentStatusNames() []string {
	return []string{
		string(SegmentExtracting),
		string(SegmentExtracted),
		string(SegmentReused),
		string(SegmentFailed),
	}
}

// MaterializedSegment is a stored media file produced for one logical segment.
type MaterializedSegment struct {
	Index      int        `json:"index"`
	Key        string     `json:"key"`
	Duration   float64    `json:"duration"`
	Size       int64      `json:"size"`
	Resolution Resolution `json:"resolution"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Reused     bool       `json:"reused,omitempty"`
}
