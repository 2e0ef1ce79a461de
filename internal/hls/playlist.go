// Package hls parses HLS master and media playlists and selects
// variants and tracks from them.
package hls

import "fmt"

// PlaylistKind distinguishes master playlists from media playlists.
type PlaylistKind string

const (
	// KindMaster is a playlist that enumerates variants and alternate tracks.
	KindMaster PlaylistKind = "master"
	// KindMedia is a playlist that enumerates the segments of one track.
	KindMedia PlaylistKind = "media"
)

// EncryptionMethod is the METHOD attribute of an #EXT-X-KEY tag.
type EncryptionMethod string

const (
	EncryptionNone   EncryptionMethod = "NONE"
	EncryptionAES128 EncryptionMethod = "AES-128"
)

// VideoVariant is one quality rendition listed in a master playlist.
type VideoVariant struct {
	Bandwidth  int
	Resolution string // "WxH", empty when the tag omits RESOLUTION
	URL        string
}

// Height returns the vertical resolution of the variant, or 0 when unknown.
func (v VideoVariant) Height() int {
	var w, h int
	if _, err := fmt.Sscanf(v.Resolution, "%dx%d", &w, &h); err != nil {
		return 0
	}
	return h
}

// MediaTrack is an alternate rendition (audio or subtitles) listed in a
// master playlist via #EXT-X-MEDIA.
type MediaTrack struct {
	GroupID  string
	Language string
	Name     string
	Default  bool
	URL      string
}

// Encryption describes the #EXT-X-KEY tag of a media playlist.
type Encryption struct {
	Method EncryptionMethod
	KeyURL string
	// IV is the parsed 16-byte initialization vector, nil when the tag
	// carries no IV attribute. When nil, the IV for segment i is the
	// big-endian 16-byte encoding of i.
	IV []byte
}

// Playlist is a parsed M3U8 document. Exactly one of the master fields
// (Variants, AudioTracks, SubtitleTracks) or the media fields (Segments,
// Encryption) is populated, according to Kind.
type Playlist struct {
	Kind PlaylistKind
	URL  string

	// Master playlist contents.
	Variants       []VideoVariant
	AudioTracks    []MediaTrack
	SubtitleTracks []MediaTrack

	// Media playlist contents. Segment URLs are absolute.
	Segments   []string
	Encryption *Encryption
}

// ParseError reports a playlist that could not be fetched or understood.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse playlist %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse playlist %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
