package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// Probe checks whether the embed provider serves content for a
// language without downloading anything.
type Probe struct {
	client  *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// NewProbe creates an availability probe against the provider at baseURL.
func NewProbe(client *httpclient.Client, baseURL string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{client: client, baseURL: baseURL, logger: logger}
}

// FirstAvailable issues a HEAD request per language, in order, and
// returns the first one that responds 2xx. A 503 is retried once
// before moving on.
func (p *Probe) FirstAvailable(ctx context.Context, base Request, languages []string) (string, bool) {
	for _, lang := range languages {
		req := base
		req.Language = lang
		if p.available(ctx, req) {
			return lang, true
		}
	}
	return "", false
}

// Available reports every language from the list the provider serves.
func (p *Probe) Available(ctx context.Context, base Request, languages []string) []string {
	var out []string
	for _, lang := range languages {
		req := base
		req.Language = lang
		if p.available(ctx, req) {
			out = append(out, lang)
		}
	}
	return out
}

func (p *Probe) available(ctx context.Context, req Request) bool {
	embedURL := EmbedURL(p.baseURL, req)

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := p.client.Head(ctx, embedURL)
		if err != nil {
			p.logger.Debug("availability probe failed",
				slog.String("url", embedURL),
				slog.String("error", err.Error()))
			return false
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
	return false
}
