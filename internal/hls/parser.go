package hls

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

var (
	// Matches KEY="value" or KEY=value attribute pairs in tag payloads.
	attrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)=(?:"([^"]*)"|([^,]+))`)
)

// Parser fetches and parses M3U8 playlists.
type Parser struct {
	client *httpclient.Client
	logger *slog.Logger
}

// NewParser creates a playlist parser using the provided HTTP client.
func NewParser(client *httpclient.Client, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{client: client, logger: logger}
}

// Fetch retrieves the playlist at playlistURL, sending referer with the
// request, and parses it. Relative URIs in the playlist are resolved
// against playlistURL.
func (p *Parser) Fetch(ctx context.Context, playlistURL, referer string) (*Playlist, error) {
	resp, err := p.client.Get(ctx, playlistURL, httpclient.WithReferer(referer), httpclient.WithHeader("Accept", "*/*"))
	if err != nil {
		return nil, &ParseError{URL: playlistURL, Reason: "fetch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ParseError{URL: playlistURL, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	body, err := p.client.ReadBody(resp)
	if err != nil {
		return nil, &ParseError{URL: playlistURL, Reason: "read body", Err: err}
	}

	pl, err := p.Parse(body, playlistURL)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("parsed playlist",
		slog.String("url", playlistURL),
		slog.String("kind", string(pl.Kind)),
		slog.Int("variants", len(pl.Variants)),
		slog.Int("segments", len(pl.Segments)))

	return pl, nil
}

// Parse parses playlist text. Origins occasionally serve playlists with
// transfer compression applied twice, so the body is sniffed for gzip,
// bzip2, and xz magic bytes before scanning.
func (p *Parser) Parse(body []byte, playlistURL string) (*Playlist, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, &ParseError{URL: playlistURL, Reason: "invalid playlist URL", Err: err}
	}

	reader, err := decompressed(body)
	if err != nil {
		return nil, &ParseError{URL: playlistURL, Reason: "decompress body", Err: err}
	}

	var lines []string
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{URL: playlistURL, Reason: "scan body", Err: err}
	}

	kind := classify(lines)
	if kind == "" {
		return nil, &ParseError{URL: playlistURL, Reason: "not a recognizable M3U8 playlist"}
	}

	pl := &Playlist{Kind: kind, URL: playlistURL}
	if kind == KindMaster {
		parseMaster(pl, lines, base)
	} else {
		if err := parseMedia(pl, lines, base); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// decompressed sniffs magic bytes and wraps the body in the matching
// decompressor, or returns it as-is for plain text.
func decompressed(body []byte) (io.Reader, error) {
	br := bufio.NewReader(bytes.NewReader(body))
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		return gzip.NewReader(br)
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		return xz.NewReader(br)
	}
	return br, nil
}

// classify decides whether the playlist is master or media.
// #EXT-X-STREAM-INF or #EXT-X-MEDIA mark a master; #EXTINF marks media.
func classify(lines []string) PlaylistKind {
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"), strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			return KindMaster
		case strings.HasPrefix(line, "#EXTINF"):
			return KindMedia
		}
	}
	return ""
}

func parseMaster(pl *Playlist, lines []string, base *url.URL) {
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			track := MediaTrack{
				GroupID:  attrs["GROUP-ID"],
				Language: attrs["LANGUAGE"],
				Name:     attrs["NAME"],
				Default:  strings.EqualFold(attrs["DEFAULT"], "YES"),
			}
			if uri := attrs["URI"]; uri != "" {
				track.URL = resolveURI(base, uri)
			}
			switch attrs["TYPE"] {
			case "AUDIO":
				pl.AudioTracks = append(pl.AudioTracks, track)
			case "SUBTITLES":
				pl.SubtitleTracks = append(pl.SubtitleTracks, track)
			}

		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			variant := VideoVariant{Resolution: attrs["RESOLUTION"]}
			if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil {
				variant.Bandwidth = bw
			}
			// The next non-blank non-comment line is the variant URL.
			for j := i + 1; j < len(lines); j++ {
				next := lines[j]
				if next == "" || strings.HasPrefix(next, "#") {
					continue
				}
				variant.URL = resolveURI(base, next)
				i = j
				break
			}
			if variant.URL != "" {
				pl.Variants = append(pl.Variants, variant)
			}
		}
	}
}

func parseMedia(pl *Playlist, lines []string, base *url.URL) error {
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			enc, err := parseKey(strings.TrimPrefix(line, "#EXT-X-KEY:"), base)
			if err != nil {
				return &ParseError{URL: pl.URL, Reason: "invalid #EXT-X-KEY", Err: err}
			}
			if enc.Method != EncryptionNone {
				pl.Encryption = enc
			}

		case line == "" || strings.HasPrefix(line, "#"):
			// Tags and blanks other than the key tag carry nothing we need.

		default:
			pl.Segments = append(pl.Segments, resolveURI(base, line))
		}
	}
	return nil
}

func parseKey(payload string, base *url.URL) (*Encryption, error) {
	attrs := parseAttrs(payload)
	enc := &Encryption{Method: EncryptionMethod(attrs["METHOD"])}
	if enc.Method == "" {
		return nil, fmt.Errorf("missing METHOD")
	}
	if enc.Method == EncryptionNone {
		return enc, nil
	}
	if uri := attrs["URI"]; uri != "" {
		enc.KeyURL = resolveURI(base, uri)
	}
	if ivHex := attrs["IV"]; ivHex != "" {
		ivHex = strings.TrimPrefix(strings.TrimPrefix(ivHex, "0x"), "0X")
		iv, err := hex.DecodeString(ivHex)
		if err != nil {
			return nil, fmt.Errorf("invalid IV: %w", err)
		}
		if len(iv) != 16 {
			return nil, fmt.Errorf("IV must be 16 bytes, got %d", len(iv))
		}
		enc.IV = iv
	}
	return enc, nil
}

// parseAttrs splits a tag payload into its attribute map. Values may be
// quoted (quotes are stripped) or bare.
func parseAttrs(payload string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(payload, -1) {
		key := strings.ToUpper(m[1])
		if m[2] != "" {
			attrs[key] = m[2]
		} else {
			attrs[key] = strings.TrimSpace(m[3])
		}
	}
	return attrs
}

// resolveURI resolves a possibly relative playlist URI against the base
// playlist URL. Absolute, scheme-relative, and path-absolute URIs all
// resolve correctly through URL reference resolution.
func resolveURI(base *url.URL, uri string) string {
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
