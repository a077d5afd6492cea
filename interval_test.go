package machina

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 86400 * time.Second},
		{"1000ms", 1 * time.Second},
		{"0d 0m 10s", 10 * time.Second},
		{"1d12h35m59s500ms", time.Duration(131759.5 * float64(time.Second))},
		{"1h", time.Hour},
		{"1m", time.Minute},
		{"1s", time.Second},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseIntervalEmpty(t *testing.T) {
	if _, err := ParseInterval(""); err == nil {
		t.Fatal("expected error for empty interval string")
	}
}

func TestParseIntervalInvalidUnit(t *testing.T) {
	if _, err := ParseInterval("3y"); err == nil {
		t.Fatal("expected error for unrecognized unit")
	}
}

func TestParseIntervalAdditive(t *testing.T) {
	a, err := ParseInterval("2h30m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseInterval("1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := ParseInterval("1h30m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b+c {
		t.Errorf("parser is not additive: %v != %v + %v", a, b, c)
	}
}
