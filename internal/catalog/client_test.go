package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(httpclient.New(httpclient.DefaultConfig()), srv.URL, "test-key", nil)
}

func TestClientMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/tt0133093", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"id":"tt0133093","title":"The Matrix","year":1999}`))
	}))
	defer srv.Close()

	movie, err := newTestClient(srv).Movie(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
	assert.Equal(t, 1999, movie.Year)
}

func TestClientEpisode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/tt0944947/season/4/episode/4", r.URL.Path)
		_, _ = w.Write([]byte(`{"season":4,"episode":4,"name":"Oathkeeper"}`))
	}))
	defer srv.Close()

	ep, err := newTestClient(srv).Episode(context.Background(), "tt0944947", 4, 4)
	require.NoError(t, err)
	assert.Equal(t, "Oathkeeper", ep.Name)
}

func TestClientSeasonEpisodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/tt0944947/season/1", r.URL.Path)
		_, _ = w.Write([]byte(`{"episodes":[{"season":1,"episode":1,"name":"Winter Is Coming"},{"season":1,"episode":2,"name":"The Kingsroad"}]}`))
	}))
	defer srv.Close()

	eps, err := newTestClient(srv).SeasonEpisodes(context.Background(), "tt0944947", 1)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "The Kingsroad", eps[1].Name)
}

func TestClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Movie(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Movie(context.Background(), "x")
	assert.Error(t, err)
}
