// Package catalog looks up content metadata (titles, years, episode
// lists) from an external catalog service.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound reports content the catalog does not know.
var ErrNotFound = errors.New("content not found in catalog")

// Movie metadata used for naming the output file.
type Movie struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year"`
}

// Show metadata used for naming the output directory tree.
type Show struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Seasons []int  `json:"seasons"`
}

// Episode metadata for one episode of a show.
type Episode struct {
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Name    string `json:"name"`
}

// Provider answers metadata lookups. Implementations must be safe for
// concurrent use.
type Provider interface {
	Movie(ctx context.Context, id string) (*Movie, error)
	Show(ctx context.Context, id string) (*Show, error)
	Episode(ctx context.Context, id string, season, episode int) (*Episode, error)
	// SeasonEpisodes lists every episode of one season, for batch admits.
	SeasonEpisodes(ctx context.Context, id string, season int) ([]Episode, error)
}
