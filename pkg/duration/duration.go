// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and weeks.
//
// Examples:
//   - "30d" = 30 days
//   - "2w" = 2 weeks
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format still works)
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// componentRegex matches a single value+unit component like "2w" or "12h".
var componentRegex = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zµ]+)`)

// extendedUnits maps the units Go's parser doesn't know to their duration.
var extendedUnits = map[string]time.Duration{
	"d": Day,
	"w": Week,
}

// Parse parses a duration string supporting days and weeks on top of the
// standard Go units. An empty string parses to zero.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	// Fast path: plain Go duration.
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var total time.Duration
	rest := s
	for rest != "" {
		m := componentRegex.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration value %q: %w", m[1], err)
		}
		unit := m[2]
		if ext, ok := extendedUnits[unit]; ok {
			total += time.Duration(value * float64(ext))
		} else {
			part, err := time.ParseDuration(m[1] + unit)
			if err != nil {
				return 0, fmt.Errorf("invalid duration unit %q in %q", unit, s)
			}
			total += part
		}
		rest = rest[len(m[0]):]
	}
	return total, nil
}

// Format renders a duration using the largest sensible units.
// Examples: "45s", "3m 20s", "2h 5m", "3d 4h".
func Format(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d >= Day:
		days := d / Day
		hours := (d % Day) / time.Hour
		if hours == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		hours := d / time.Hour
		mins := (d % time.Hour) / time.Minute
		if mins == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, mins)
	case d >= time.Minute:
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
