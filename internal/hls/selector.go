package hls

import (
	"regexp"
	"strconv"
	"strings"
)

var qualityHintRegex = regexp.MustCompile(`^(\d+)p?$`)

// SelectVariant chooses a video variant from a master playlist.
//
// When quality is of the form "<n>" or "<n>p", the variant whose
// resolution height equals n is chosen. Otherwise ("best", "worst",
// empty, or an unmatched height) the variant with the highest bandwidth
// wins, or the lowest for "worst". Ties keep the first occurrence.
func SelectVariant(variants []VideoVariant, quality string) (VideoVariant, bool) {
	if len(variants) == 0 {
		return VideoVariant{}, false
	}

	if m := qualityHintRegex.FindStringSubmatch(strings.TrimSpace(quality)); m != nil {
		height, _ := strconv.Atoi(m[1])
		for _, v := range variants {
			if v.Height() == height {
				return v, true
			}
		}
	}

	if strings.EqualFold(quality, "worst") {
		best := variants[0]
		for _, v := range variants[1:] {
			if v.Bandwidth < best.Bandwidth {
				best = v
			}
		}
		return best, true
	}

	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}

// SelectTrack finds the track matching a language code, first by
// case-insensitive equality, then by two-way prefix so that ISO 639-1
// and 639-2 forms of the same language ("en" and "eng") match each
// other. Returns false when the language is absent.
func SelectTrack(tracks []MediaTrack, language string) (MediaTrack, bool) {
	want := strings.ToLower(strings.TrimSpace(language))
	if want == "" {
		return MediaTrack{}, false
	}

	for _, t := range tracks {
		if strings.ToLower(t.Language) == want {
			return t, true
		}
	}
	for _, t := range tracks {
		have := strings.ToLower(t.Language)
		if have == "" {
			continue
		}
		if strings.HasPrefix(have, want) || strings.HasPrefix(want, have) {
			return t, true
		}
	}
	return MediaTrack{}, false
}
