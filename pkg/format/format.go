// Package format provides human-readable formatting for progress reporting.
package format

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Speed formats a transfer rate in bytes per second using decimal (1000)
// thresholds. Values above the B/s band carry two decimals.
//
// Examples: Speed(512) => "512 B/s", Speed(1_500_000) => "1.50 MB/s".
func Speed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond >= 1e9:
		return fmt.Sprintf("%.2f GB/s", bytesPerSecond/1e9)
	case bytesPerSecond >= 1e6:
		return fmt.Sprintf("%.2f MB/s", bytesPerSecond/1e6)
	case bytesPerSecond >= 1e3:
		return fmt.Sprintf("%.2f KB/s", bytesPerSecond/1e3)
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}

// Percent formats a percentage to one decimal place.
// Example: Percent(45.678) => "45.7%".
func Percent(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}

// ETA formats a remaining-time estimate.
// Examples: "45s", "3m 20s", "1h 5m".
func ETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// Bytes formats a byte count into human-readable binary units.
// Example: Bytes(1536) => "1.5 KB".
func Bytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp])
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567".
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// NumberCompact formats a number in compact notation.
// Example: NumberCompact(1234567) => "1.2M".
func NumberCompact(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}
