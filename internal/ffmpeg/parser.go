package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRegex = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2})\.(\d+)`)
	timeRegex     = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})\.(\d+)`)
	sizeRegex     = regexp.MustCompile(`size=\s*(\d+)\s*(\w+)`)
	bitrateRegex  = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
)

// Update is one parsed progress sample from the ffmpeg output stream.
type Update struct {
	// Percent is time-based when the input duration is known,
	// otherwise derived from the cached total size estimate.
	Percent        float64
	Bytes          int64
	Bitrate        string
	BytesPerSecond float64
	ETASeconds     int64
}

// ProgressParser extracts progress from ffmpeg's merged output, one
// line at a time. The input duration is captured once from the banner;
// progress lines then yield time, size, and bitrate samples.
type ProgressParser struct {
	start          time.Time
	totalDuration  time.Duration
	estimatedTotal int64
}

// NewProgressParser creates a parser. The clock for speed computation
// starts now.
func NewProgressParser() *ProgressParser {
	return &ProgressParser{start: time.Now()}
}

// TotalDuration returns the input duration seen so far, zero when the
// banner has not been parsed yet.
func (p *ProgressParser) TotalDuration() time.Duration {
	return p.totalDuration
}

// ParseLine consumes one output line. It returns an Update and true
// when the line carries a progress sample.
func (p *ProgressParser) ParseLine(line string) (Update, bool) {
	if p.totalDuration == 0 {
		if m := durationRegex.FindStringSubmatch(line); m != nil {
			p.totalDuration = parseClock(m)
		}
	}

	tm := timeRegex.FindStringSubmatch(line)
	if tm == nil {
		return Update{}, false
	}
	processed := parseClock(tm)

	var update Update

	if m := sizeRegex.FindStringSubmatch(line); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		update.Bytes = n * unitMultiplier(m[2])
	}
	if m := bitrateRegex.FindStringSubmatch(line); m != nil {
		update.Bitrate = strings.TrimSpace(m[1])
	}

	if p.totalDuration > 0 {
		update.Percent = processed.Seconds() / p.totalDuration.Seconds() * 100
		if update.Percent > 100 {
			update.Percent = 100
		}
		// Cache a total size estimate for ETA once enough has run.
		if p.estimatedTotal == 0 && update.Bytes > 0 && processed > time.Second {
			p.estimatedTotal = int64(float64(update.Bytes) * p.totalDuration.Seconds() / processed.Seconds())
		}
	} else if p.estimatedTotal > 0 && update.Bytes > 0 {
		update.Percent = float64(update.Bytes) / float64(p.estimatedTotal) * 100
		if update.Percent > 100 {
			update.Percent = 100
		}
	}

	elapsed := time.Since(p.start).Seconds()
	if elapsed > 0 && update.Bytes > 0 {
		update.BytesPerSecond = float64(update.Bytes) / elapsed
		if p.estimatedTotal > update.Bytes {
			update.ETASeconds = int64(float64(p.estimatedTotal-update.Bytes) / update.BytesPerSecond)
		}
	}

	return update, true
}

func parseClock(m []string) time.Duration {
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	frac, _ := strconv.Atoi(m[4])

	d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(s)*time.Second
	// The fractional part is centiseconds in ffmpeg output.
	if len(m[4]) == 2 {
		d += time.Duration(frac) * 10 * time.Millisecond
	} else {
		d += time.Duration(frac) * time.Millisecond
	}
	return d
}

func unitMultiplier(unit string) int64 {
	switch strings.ToLower(unit) {
	case "kb", "kib":
		return 1024
	case "mb", "mib":
		return 1024 * 1024
	case "gb", "gib":
		return 1024 * 1024 * 1024
	default:
		return 1
	}
}
