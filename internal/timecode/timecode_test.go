package timecode

import (
	"errors"
	"math"
	"testing"
	"time"

	"clipstitch/internal/services"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"0", 0},
		{"90", 90},
		{"12.5", 12.5},
		{"01:30", 90},
		{"1:02:03", 3723},
		{"00:00:30.250", 30.25},
		{"00:01:05,5", 65.5},
		{" 02:00 ", 120},
		{"75:00", 4500},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5", "1:2:3:4", "00:60", "01:60:00", "1.5:00", "00::10", "1e3"} {
		_, err := Parse(in)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
		if !errors.Is(err, ErrInvalidTime) || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Parse(%q) error %v should wrap ErrInvalidTime and ErrValidation", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[float64]string{
		0:         "00:00:00.000",
		30.25:     "00:00:30.250",
		3723.0004: "01:02:03.000",
		59.9996:   "00:01:00.000",
		-4:        "00:00:00.000",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Fatalf("Format(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTripToMillisecond(t *testing.T) {
	for _, v := range []float64{0.001, 1.5, 61.234, 3599.999, 7322.5} {
		got, err := Parse(Format(v))
		if err != nil {
			t.Fatalf("round trip %v: %v", v, err)
		}
		if math.Abs(got-v) > 0.0005 {
			t.Fatalf("round trip %v produced %v", v, got)
		}
	}
}

func TestDurationAndSeconds(t *testing.T) {
	if got := Duration(1.5); got != 1500*time.Millisecond {
		t.Fatalf("Duration(1.5) = %s", got)
	}
	if got := Seconds(30); got != "30.000" {
		t.Fatalf("Seconds(30) = %q", got)
	}
}
