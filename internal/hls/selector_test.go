package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func variants() []VideoVariant {
	return []VideoVariant{
		{Bandwidth: 2500000, Resolution: "1280x720", URL: "u720"},
		{Bandwidth: 5000000, Resolution: "1920x1080", URL: "u1080"},
		{Bandwidth: 800000, Resolution: "854x480", URL: "u480"},
	}
}

func TestSelectVariant(t *testing.T) {
	tests := []struct {
		name    string
		quality string
		wantURL string
	}{
		{"exact height", "720", "u720"},
		{"exact height with p", "1080p", "u1080"},
		{"best keyword", "best", "u1080"},
		{"worst keyword", "worst", "u480"},
		{"empty falls back to max bandwidth", "", "u1080"},
		{"unmatched height falls back to max bandwidth", "2160p", "u1080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := SelectVariant(variants(), tt.quality)
			require.True(t, ok)
			assert.Equal(t, tt.wantURL, v.URL)
		})
	}
}

func TestSelectVariantEmpty(t *testing.T) {
	_, ok := SelectVariant(nil, "best")
	assert.False(t, ok)
}

func TestSelectVariantBandwidthTieKeepsFirst(t *testing.T) {
	vs := []VideoVariant{
		{Bandwidth: 100, URL: "first"},
		{Bandwidth: 100, URL: "second"},
	}
	v, ok := SelectVariant(vs, "best")
	require.True(t, ok)
	assert.Equal(t, "first", v.URL)
}

func TestSelectTrack(t *testing.T) {
	tracks := []MediaTrack{
		{Language: "eng", Name: "English", URL: "a-en"},
		{Language: "ita", Name: "Italiano", URL: "a-it"},
		{Language: "FR", Name: "Français", URL: "a-fr"},
	}

	tests := []struct {
		name    string
		lang    string
		wantURL string
		found   bool
	}{
		{"exact match case-insensitive", "ITA", "a-it", true},
		{"639-1 query matches 639-2 track", "en", "a-en", true},
		{"639-2 query matches 639-1 track", "fra", "a-fr", true},
		{"absent language", "de", "", false},
		{"empty language", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, ok := SelectTrack(tracks, tt.lang)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.wantURL, track.URL)
			}
		})
	}
}

func TestSelectTrackExactBeatsPrefix(t *testing.T) {
	tracks := []MediaTrack{
		{Language: "eng", URL: "long"},
		{Language: "en", URL: "exact"},
	}
	track, ok := SelectTrack(tracks, "en")
	require.True(t, ok)
	assert.Equal(t, "exact", track.URL)
}
