package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/maintenance"
	"github.com/jmylchreest/vodarr/internal/startup"
	"github.com/jmylchreest/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server and download engine.

The server provides:
- REST API for admitting and managing download tasks
- Live progress over SSE at /api/v1/events
- Availability probe and health endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8264, "Port to listen on")
	serveCmd.Flags().String("download-dir", "", "Root directory for completed downloads")
	serveCmd.Flags().String("temp-dir", "", "Root directory for task scratch space")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.download_dir", serveCmd.Flags().Lookup("download-dir"))
	mustBindPFlag("storage.temp_dir", serveCmd.Flags().Lookup("temp-dir"))
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag to key %q: %v", key, err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// No tasks can be running yet, every leftover scratch dir is fair game.
	if removed, err := startup.CleanupOrphanedScratchDirs(logger, cfg.Storage.TempDir, cfg.Maintenance.OrphanAge, nil); err != nil {
		logger.Warn("startup scratch cleanup failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("cleaned orphaned scratch directories on startup",
			slog.Int("removed", removed))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if cfg.Maintenance.Enabled {
		sweeper := maintenance.NewSweeper(maintenance.Config{
			Schedule:      cfg.Maintenance.Cron,
			TempDir:       cfg.Storage.TempDir,
			OrphanAge:     cfg.Maintenance.OrphanAge,
			TaskRetention: cfg.Maintenance.TaskRetention,
		}, eng.sched, logger)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	// WriteTimeout stays zero so SSE streams are not cut off.

	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	handlers.NewSystemHandler().Register(server.API())
	handlers.NewTasksHandler(eng.sched).Register(server.API())
	handlers.NewProbeHandler(eng.probe).Register(server.API())
	handlers.NewEventsHandler(eng.bus, logger).RegisterSSE(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting vodarr server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version))

	serveErr := server.ListenAndServe(ctx)

	// Let running orchestrations observe cancellation and clean up.
	cancel()
	eng.sched.Wait()

	return serveErr
}
