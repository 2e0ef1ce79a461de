package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmylchreest/vodarr/internal/catalog"
	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/progress"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/segment"
	"github.com/jmylchreest/vodarr/internal/version"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// ffmpegBinaryEnv overrides binary detection, matching what the
// detector itself reads.
const ffmpegBinaryEnv = "VODARR_FFMPEG_BINARY"

// downloadEngine bundles the wired download stack.
type downloadEngine struct {
	sched *engine.Scheduler
	probe *resolver.Probe
	bus   *progress.Bus
}

func (e *downloadEngine) close() {
	e.bus.Close()
}

// buildEngine wires the full download stack from configuration: HTTP
// clients, catalog, resolver, ffmpeg runner, scheduler and orchestrator.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*downloadEngine, error) {
	if cfg.Resolver.BaseURL == "" {
		return nil, fmt.Errorf("resolver.base_url is required")
	}

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	if cfg.FFmpeg.BinaryPath != "" {
		os.Setenv(ffmpegBinaryEnv, cfg.FFmpeg.BinaryPath)
	}

	// Segment fetching carries the full retry budget. Playlists get the
	// same budget plus a response size cap.
	segmentCfg := httpclient.DefaultConfig()
	segmentCfg.RetryAttempts = cfg.Download.RetryMaxAttempts
	segmentCfg.RetryDelay = cfg.Download.RetryBaseDelay
	segmentCfg.RetryMaxDelay = cfg.Download.RetryMaxDelay
	segmentCfg.UserAgent = version.UserAgent()
	segmentCfg.Logger = logger
	segmentClient := httpclient.New(segmentCfg)

	playlistCfg := segmentCfg
	playlistCfg.MaxResponseSize = cfg.Download.MaxPlaylistSize.Bytes()
	playlistClient := httpclient.New(playlistCfg)

	resolverCfg := httpclient.DefaultConfig()
	resolverCfg.Timeout = cfg.Resolver.Timeout
	resolverCfg.UserAgent = version.UserAgent()
	resolverCfg.Logger = logger
	resolverClient := httpclient.New(resolverCfg)

	catalogCfg := httpclient.DefaultConfig()
	catalogCfg.Timeout = cfg.Catalog.Timeout
	catalogCfg.UserAgent = version.UserAgent()
	catalogCfg.Logger = logger
	catalogClient := httpclient.New(catalogCfg)

	// The probe does its own single 503 retry per language; client-level
	// status retries are disabled so a down origin answers fast.
	probeCfg := httpclient.DefaultConfig()
	probeCfg.Timeout = cfg.Resolver.Timeout
	probeCfg.RetryAttempts = 0
	probeCfg.RetryableStatusCodes = &httpclient.StatusCodeSet{}
	probeCfg.UserAgent = version.UserAgent()
	probeClient := httpclient.New(probeCfg)

	bus := progress.NewBus(logger)
	registry := ffmpeg.NewRegistry(logger)
	runner := ffmpeg.NewRunner(ffmpeg.NewBinaryDetector(), registry, cfg.FFmpeg.ProcessTimeout, logger)

	cat := catalog.NewClient(catalogClient, cfg.Catalog.BaseURL, cfg.Catalog.APIKey, logger)
	res := resolver.NewEmbedResolver(resolverClient, cfg.Resolver.BaseURL, logger)
	probe := resolver.NewProbe(probeClient, cfg.Resolver.BaseURL, logger)

	sched := engine.NewScheduler(ctx, engine.SchedulerConfig{
		MaxParallel:      cfg.Download.ParallelTasks,
		DownloadDir:      cfg.Storage.DownloadDir,
		DefaultLanguages: cfg.Download.DefaultLanguages,
		DefaultQuality:   cfg.Download.DefaultQuality,
		MinFreeSpace:     cfg.Storage.MinFreeSpace.Bytes(),
	}, cat, bus, registry, logger)

	orch := engine.NewOrchestrator(
		engine.OrchestratorConfig{
			TempDir:        cfg.Storage.TempDir,
			TaskTimeout:    cfg.Download.TaskTimeout,
			DefaultQuality: cfg.Download.DefaultQuality,
		},
		res,
		hls.NewParser(playlistClient, logger),
		segment.NewFetcher(segmentClient, cfg.Download.SegmentConcurrency, logger),
		runner,
		playlistClient,
		bus,
		sched,
		cfg.Download.TrackConcurrency,
		logger,
	)
	sched.SetOrchestrator(orch)

	return &downloadEngine{sched: sched, probe: probe, bus: bus}, nil
}
