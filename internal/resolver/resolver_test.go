package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

func probeClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	// The probe applies its own 503 handling.
	cfg.RetryableStatusCodes = &httpclient.StatusCodeSet{}
	cfg.RetryDelay = time.Millisecond
	return httpclient.New(cfg)
}

func TestEmbedURL(t *testing.T) {
	movie := Request{Kind: models.KindMovie, ContentID: "tt0133093", Language: "en"}
	assert.Equal(t, "https://vid.example/movie/tt0133093?lang=en",
		EmbedURL("https://vid.example", movie))

	episode := Request{Kind: models.KindEpisode, ContentID: "tt0944947", Season: 4, Episode: 4, Language: "it"}
	assert.Equal(t, "https://vid.example/tv/tt0944947/4/4?lang=it",
		EmbedURL("https://vid.example", episode))

	noLang := Request{Kind: models.KindMovie, ContentID: "x"}
	assert.Equal(t, "https://vid.example/movie/x", EmbedURL("https://vid.example", noLang))
}

func TestEmbedResolverFindsURLInScript(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>player</title></head><body>
<div id="player"></div>
<script>
  var player = new Playerjs({id:"player", file:"https://cdn.example.com/hls/abc123/master.m3u8?token=xyz"});
</script>
</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/tt42", r.URL.Path)
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewEmbedResolver(httpclient.New(httpclient.DefaultConfig()), srv.URL, nil)
	res, err := r.Resolve(context.Background(), Request{Kind: models.KindMovie, ContentID: "tt42", Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/hls/abc123/master.m3u8?token=xyz", res.MasterPlaylistURL)
	assert.Equal(t, srv.URL+"/movie/tt42?lang=en", res.RefererURL)
}

func TestEmbedResolverFindsURLInSourceTag(t *testing.T) {
	page := `<html><body><video><source src="https://cdn.example.com/v/master.m3u8" type="application/x-mpegURL"></video></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewEmbedResolver(httpclient.New(httpclient.DefaultConfig()), srv.URL, nil)
	res, err := r.Resolve(context.Background(), Request{Kind: models.KindMovie, ContentID: "tt42"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v/master.m3u8", res.MasterPlaylistURL)
}

func TestEmbedResolverNotAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewEmbedResolver(httpclient.New(httpclient.DefaultConfig()), srv.URL, nil)
	_, err := r.Resolve(context.Background(), Request{Kind: models.KindMovie, ContentID: "gone"})
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestEmbedResolverPageWithoutPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>nothing here</body></html>"))
	}))
	defer srv.Close()

	r := NewEmbedResolver(httpclient.New(httpclient.DefaultConfig()), srv.URL, nil)
	_, err := r.Resolve(context.Background(), Request{Kind: models.KindMovie, ContentID: "tt42"})
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestProbeFirstAvailableShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("lang") == "it" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(probeClient(), srv.URL, nil)
	base := Request{Kind: models.KindMovie, ContentID: "tt42"}

	lang, ok := p.FirstAvailable(context.Background(), base, []string{"it", "en", "fr"})
	require.True(t, ok)
	assert.Equal(t, "en", lang)
	// it missed, en hit; fr is never probed.
	assert.Equal(t, int32(2), hits.Load())
}

func TestProbeRetries503Once(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(probeClient(), srv.URL, nil)
	lang, ok := p.FirstAvailable(context.Background(),
		Request{Kind: models.KindMovie, ContentID: "tt42"}, []string{"en"})
	require.True(t, ok)
	assert.Equal(t, "en", lang)
	assert.Equal(t, int32(2), hits.Load())
}

func TestProbeAllUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewProbe(probeClient(), srv.URL, nil)
	_, ok := p.FirstAvailable(context.Background(),
		Request{Kind: models.KindMovie, ContentID: "tt42"}, []string{"en", "it"})
	assert.False(t, ok)
}
