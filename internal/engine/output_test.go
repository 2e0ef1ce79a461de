package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Matrix", "The.Matrix"},
		{"What If...?", "What.If...."},
		{`A<B>C:D"E/F\G|H?I*J`, "ABCDEFGHIJ"},
		{"  spaced   out  ", "spaced.out"},
		{"Tabs\tand\nnewlines", "Tabs.and.newlines"},
		{"Already.Clean", "Already.Clean"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}

func TestMoviePath(t *testing.T) {
	got := MoviePath("/media/movies", "The Matrix", 1999)
	assert.Equal(t, filepath.Join("/media/movies", "The.Matrix.1999.mp4"), got)
}

func TestEpisodePath(t *testing.T) {
	got := EpisodePath("/media/tv", "Game of Thrones", 4, 4, "Oathkeeper")
	assert.Equal(t, filepath.Join(
		"/media/tv", "Game.of.Thrones", "Season 04",
		"Game.of.Thrones.S04E04 - Oathkeeper.mp4"), got)
}

func TestEpisodePathWithoutName(t *testing.T) {
	got := EpisodePath("/media/tv", "Dark", 1, 10, "")
	assert.Equal(t, filepath.Join(
		"/media/tv", "Dark", "Season 01", "Dark.S01E10.mp4"), got)
}
