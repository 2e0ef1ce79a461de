package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

var playlistURLRegex = regexp.MustCompile(`https?:[^"'\s\\]+?\.m3u8[^"'\s\\]*`)

// EmbedResolver scrapes the provider's player page for the master
// playlist URL. The URL appears either as a media element source or
// inside an inline player-setup script.
type EmbedResolver struct {
	client  *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// NewEmbedResolver creates a resolver against the provider at baseURL.
func NewEmbedResolver(client *httpclient.Client, baseURL string, logger *slog.Logger) *EmbedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedResolver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Resolve fetches the embed page and extracts the master playlist URL.
func (r *EmbedResolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	embedURL := EmbedURL(r.baseURL, req)

	resp, err := r.client.Get(ctx, embedURL, httpclient.WithReferer(r.baseURL+"/"))
	if err != nil {
		return nil, fmt.Errorf("fetching embed page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, ErrNotAvailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed page returned status %d", resp.StatusCode)
	}

	body, err := r.client.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading embed page: %w", err)
	}

	playlistURL := extractPlaylistURL(body)
	if playlistURL == "" {
		return nil, ErrNotAvailable
	}

	r.logger.Debug("resolved master playlist",
		slog.String("embed_url", embedURL),
		slog.String("playlist_url", playlistURL))

	return &Resolution{
		RefererURL:        embedURL,
		MasterPlaylistURL: playlistURL,
	}, nil
}

// extractPlaylistURL walks the page DOM looking for an .m3u8 reference
// in source/video attributes, then falls back to scanning inline
// script text.
func extractPlaylistURL(page []byte) string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		// Malformed markup still often carries the URL in plain text.
		return playlistURLRegex.FindString(string(page))
	}

	var fromAttr, fromScript string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "source", "video":
				for _, attr := range n.Attr {
					if attr.Key == "src" && strings.Contains(attr.Val, ".m3u8") && fromAttr == "" {
						fromAttr = attr.Val
					}
				}
			case "script":
				if n.FirstChild != nil && fromScript == "" {
					fromScript = playlistURLRegex.FindString(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if fromAttr != "" {
		return fromAttr
	}
	return fromScript
}
