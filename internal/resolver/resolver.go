// Package resolver maps content identifiers to master playlist URLs by
// scraping the embed provider's player page.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmylchreest/vodarr/internal/models"
)

// ErrNotAvailable reports that the embed provider has no stream for the
// requested content and language.
var ErrNotAvailable = errors.New("content not available")

// Request identifies one piece of content in one language.
type Request struct {
	Kind      models.ContentKind
	ContentID string
	Season    int
	Episode   int
	Language  string
}

// Resolution is the pair of URLs a track pipeline needs: the playlist
// itself and the referer the origin requires alongside it.
type Resolution struct {
	RefererURL        string
	MasterPlaylistURL string
}

// Resolver resolves content requests to master playlists.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Resolution, error)
}

// EmbedURL builds the provider's player page URL for a request.
// Movies live under /movie/<id>, episodes under /tv/<id>/<s>/<e>, with
// the language as a query parameter.
func EmbedURL(baseURL string, req Request) string {
	var path string
	if req.Kind == models.KindEpisode {
		path = fmt.Sprintf("/tv/%s/%d/%d", url.PathEscape(req.ContentID), req.Season, req.Episode)
	} else {
		path = fmt.Sprintf("/movie/%s", url.PathEscape(req.ContentID))
	}

	u := baseURL + path
	if req.Language != "" {
		u += "?lang=" + url.QueryEscape(req.Language)
	}
	return u
}
