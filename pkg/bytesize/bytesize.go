// Package bytesize provides human-readable byte size parsing and formatting.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "1024" = 1024 bytes (no unit = bytes)
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Common size constants using binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var unitMultipliers = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
}

var sizeRegex = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-z]*)$`)

// Parse parses a human-readable byte size string.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	m := sizeRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", m[1], err)
	}

	mult, ok := unitMultipliers[m[2]]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", m[2])
	}

	return Size(value * float64(mult)), nil
}

// Format renders a size in the most compact binary unit.
// Example: Format(1536*1024) => "1.5 MB".
func Format(s Size) string {
	switch {
	case s >= TB:
		return trimZero(fmt.Sprintf("%.1f TB", float64(s)/float64(TB)))
	case s >= GB:
		return trimZero(fmt.Sprintf("%.1f GB", float64(s)/float64(GB)))
	case s >= MB:
		return trimZero(fmt.Sprintf("%.1f MB", float64(s)/float64(MB)))
	case s >= KB:
		return trimZero(fmt.Sprintf("%.1f KB", float64(s)/float64(KB)))
	default:
		return fmt.Sprintf("%d B", s)
	}
}

func trimZero(s string) string {
	return strings.Replace(s, ".0 ", " ", 1)
}
