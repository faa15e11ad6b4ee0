// Package timecode converts between human time strings and seconds.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"clipstitch/internal/services"
)

// ErrInvalidTime reports a time string that cannot be parsed.
var ErrInvalidTime = fmt.Errorf("%w: invalid time", services.ErrValidation)

// Parse accepts SS, SS.fff, MM:SS(.fff) and HH:MM:SS(.fff). A comma may be
// used as the decimal separator.
func Parse(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidTime)
	}
	normalized := strings.Replace(trimmed, ",", ".", 1)
	parts := strings.Split(normalized, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q has too many fields", ErrInvalidTime, value)
	}

	seconds, err := parseField(parts[len(parts)-1], true)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTime, value, err)
	}
	if len(parts) > 1 && seconds >= 60 {
		return 0, fmt.Errorf("%w: %q seconds out of range", ErrInvalidTime, value)
	}

	total := seconds
	multiplier := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		field, err := parseField(parts[i], false)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTime, value, err)
		}
		// minutes must stay below 60 only when an hours field is present
		if i == len(parts)-2 && len(parts) == 3 && field >= 60 {
			return 0, fmt.Errorf("%w: %q minutes out of range", ErrInvalidTime, value)
		}
		total += field * multiplier
		multiplier *= 60
	}
	return total, nil
}

func parseField(raw string, allowFraction bool) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty field")
	}
	if !allowFraction && strings.Contains(raw, ".") {
		return 0, fmt.Errorf("fractional field %q", raw)
	}
	for _, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			return 0, fmt.Errorf("non-numeric field %q", raw)
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric field %q", raw)
	}
	return v, nil
}

// Format renders seconds as HH:MM:SS.mmm, rounded to the millisecond.
// Negative inputs are clamped to zero.
func Format(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3_600_000
	millis -= h * 3_600_000
	m := millis / 60_000
	millis -= m * 60_000
	s := millis / 1000
	millis -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, millis)
}

// Duration converts seconds into a time.Duration.
func Duration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// Seconds formats seconds for use as an ffmpeg time argument.
func Seconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}
