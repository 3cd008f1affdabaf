package common

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
		3 << 30:         "3.00 GiB",
		2 << 40:         "2.00 TiB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestClampDuration(t *testing.T) {
	if got := ClampDuration(time.Millisecond, time.Second, time.Minute); got != time.Second {
		t.Fatalf("expected min clamp, got %v", got)
	}
	if got := ClampDuration(time.Hour, time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected max clamp, got %v", got)
	}
	if got := ClampDuration(5*time.Second, time.Second, time.Minute); got != 5*time.Second {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" wg0, ,wg1 ,")
	if len(got) != 2 || got[0] != "wg0" || got[1] != "wg1" {
		t.Fatalf("unexpected split: %v", got)
	}
	if SplitCSV("   ") != nil {
		t.Fatal("blank input must give nil")
	}
}
