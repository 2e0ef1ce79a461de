// Package engine schedules download tasks and orchestrates their track
// pipelines through segment fetch, conversion, and the final mux.
package engine

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// SanitizeName makes a title safe for filenames: characters the common
// filesystems reject are removed and whitespace runs become a single
// dot.
func SanitizeName(name string) string {
	s := forbiddenChars.ReplaceAllString(name, "")
	s = strings.TrimSpace(s)
	return whitespaceRuns.ReplaceAllString(s, ".")
}

// MoviePath builds the output path for a movie:
// <base>/<Sanitized.Title>.<year>.mp4
func MoviePath(basePath, title string, year int) string {
	return filepath.Join(basePath, fmt.Sprintf("%s.%d.mp4", SanitizeName(title), year))
}

// EpisodePath builds the output path for an episode:
// <base>/<Sanitized.Show>/Season <NN>/<Sanitized.Show>.S<NN>E<NN>[ - <Episode.Name>].mp4
func EpisodePath(basePath, show string, season, episode int, episodeName string) string {
	sanitized := SanitizeName(show)
	file := fmt.Sprintf("%s.S%02dE%02d", sanitized, season, episode)
	if episodeName != "" {
		file += " - " + SanitizeName(episodeName)
	}
	return filepath.Join(basePath, sanitized, fmt.Sprintf("Season %02d", season), file+".mp4")
}
