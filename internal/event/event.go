// Package event decodes clip workflow invocation events.
//
// Events come from outside the system and are loosely typed: times may be
// seconds or timecode strings and order may be a number or a numeric string.
// Decode turns them into a validated clip.Input or reports every problem.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"clipstitch/internal/clip"
	"clipstitch/internal/services"
	"clipstitch/internal/timecode"
)

// ErrInvalidEvent reports an event that cannot become a clip request.
var ErrInvalidEvent = fmt.Errorf("%w: invalid clip event", services.ErrValidation)

type rawEvent struct {
	TenantID  string       `json:"tenantId"`
	EpisodeID string       `json:"episodeId"`
	ClipID    string       `json:"clipId"`
	Segments  []rawSegment `json:"segments"`
}

type rawSegment struct {
	StartTime json.RawMessage `json:"startTime"`
	EndTime   json.RawMessage `json:"endTime"`
	Speaker   string          `json:"speaker"`
	Track     string          `json:"track"`
	Order     json.RawMessage `json:"order"`
	Notes     string          `json:"notes"`
}

// Decode parses data into a validated clip.Input.
func Decode(data []byte) (clip.Input, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return clip.Input{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var errs []error
	in := clip.Input{
		TenantID:  strings.TrimSpace(raw.TenantID),
		EpisodeID: strings.TrimSpace(raw.EpisodeID),
		ClipID:    strings.TrimSpace(raw.ClipID),
		Segments:  make([]clip.Segment, 0, len(raw.Segments)),
	}
	for i, rs := range raw.Segments {
		seg := clip.Segment{
			Speaker: strings.TrimSpace(rs.Speaker),
			Track:   strings.TrimSpace(rs.Track),
			Notes:   rs.Notes,
		}
		var err error
		if seg.Start, err = decodeTime(rs.StartTime); err != nil {
			errs = append(errs, fmt.Errorf("segments[%d].startTime: %w", i, err))
		}
		if seg.End, err = decodeTime(rs.EndTime); err != nil {
			errs = append(errs, fmt.Errorf("segments[%d].endTime: %w", i, err))
		}
		if seg.Order, err = decodeOrder(rs.Order); err != nil {
			errs = append(errs, fmt.Errorf("segments[%d].order: %w", i, err))
		}
		in.Segments = append(in.Segments, seg)
	}
	if len(errs) == 0 {
		if err := in.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return clip.Input{}, fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(errs...))
	}
	return in, nil
}

func decodeTime(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return timecode.Parse(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("expected seconds or a time string, got %s", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func decodeOrder(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("required")
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	if f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a positive integer", text)
	}
	return int(f), nil
}
