package common

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"
)

func ClampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func ExpandPath(p string) string {
	if strings.HasPrefix(p, "~") {
		u, _ := user.Current()
		if u != nil {
			return strings.Replace(p, "~", u.HomeDir, 1)
		}
	}
	return p
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatUint(b, 10) + " B"
	}
	kb := float64(b) / unit
	if kb < unit {
		return fmt.Sprintf("%.1f KiB", kb)
	}
	mb := kb / unit
	if mb < unit {
		return fmt.Sprintf("%.1f MiB", mb)
	}
	gb := mb / unit
	if gb < unit {
		return fmt.Sprintf("%.2f GiB", gb)
	}
	return fmt.Sprintf("%.2f TiB", gb/unit)
}

// SplitCSV splits a comma-separated list into trimmed, non-empty parts.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
