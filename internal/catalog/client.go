package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// Client is an HTTP Provider against a JSON catalog API.
type Client struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates a catalog client. The API key, when set, is sent as
// a query parameter on every request.
func NewClient(client *httpclient.Client, baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Movie fetches movie metadata.
func (c *Client) Movie(ctx context.Context, id string) (*Movie, error) {
	var movie Movie
	if err := c.getJSON(ctx, "/movie/"+url.PathEscape(id), &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

// Show fetches show metadata including its season numbers.
func (c *Client) Show(ctx context.Context, id string) (*Show, error) {
	var show Show
	if err := c.getJSON(ctx, "/tv/"+url.PathEscape(id), &show); err != nil {
		return nil, err
	}
	return &show, nil
}

// Episode fetches metadata for one episode.
func (c *Client) Episode(ctx context.Context, id string, season, episode int) (*Episode, error) {
	var ep Episode
	path := fmt.Sprintf("/tv/%s/season/%d/episode/%d", url.PathEscape(id), season, episode)
	if err := c.getJSON(ctx, path, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// SeasonEpisodes lists all episodes of one season.
func (c *Client) SeasonEpisodes(ctx context.Context, id string, season int) ([]Episode, error) {
	var payload struct {
		Episodes []Episode `json:"episodes"`
	}
	path := fmt.Sprintf("/tv/%s/season/%d", url.PathEscape(id), season)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Episodes, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	reqURL := c.baseURL + path
	if c.apiKey != "" {
		reqURL += "?api_key=" + url.QueryEscape(c.apiKey)
	}

	resp, err := c.client.Get(ctx, reqURL, httpclient.WithHeader("Accept", "application/json"))
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog request %s: status %d", path, resp.StatusCode)
	}

	body, err := c.client.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("catalog request %s: decoding: %w", path, err)
	}
	return nil
}
