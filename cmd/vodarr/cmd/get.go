package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/models"
)

var getFlags struct {
	kind      string
	contentID string
	season    int
	episode   int
	languages []string
	quality   string
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Download one movie or episode and exit",
	Long: `Download a single piece of content without starting the server.

Examples:

  vodarr get --kind movie --id tt0133093 --languages en
  vodarr get --kind episode --id tt0944947 --season 4 --episode 4 --quality 1080`,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVar(&getFlags.kind, "kind", "movie", "content kind (movie, episode)")
	getCmd.Flags().StringVar(&getFlags.contentID, "id", "", "catalog content identifier")
	getCmd.Flags().IntVar(&getFlags.season, "season", 0, "season number (episodes only)")
	getCmd.Flags().IntVar(&getFlags.episode, "episode", 0, "episode number (episodes only)")
	getCmd.Flags().StringSliceVar(&getFlags.languages, "languages", nil, "language preference order")
	getCmd.Flags().StringVar(&getFlags.quality, "quality", "", "best, worst or a height hint like 1080")

	_ = getCmd.MarkFlagRequired("id")
}

func runGet(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	kind := models.ContentKind(getFlags.kind)
	if kind != models.KindMovie && kind != models.KindEpisode {
		return fmt.Errorf("kind must be movie or episode")
	}
	if kind == models.KindEpisode && (getFlags.season <= 0 || getFlags.episode <= 0) {
		return fmt.Errorf("season and episode are required for episodes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("interrupted, cancelling download")
		cancel()
	}()

	task, err := eng.sched.Admit(ctx, engine.AdmitRequest{
		Kind:      kind,
		ContentID: getFlags.contentID,
		Season:    getFlags.season,
		Episode:   getFlags.episode,
		Languages: getFlags.languages,
		Quality:   getFlags.quality,
	})
	if err != nil {
		return fmt.Errorf("admitting task: %w", err)
	}

	logger.Info("download admitted",
		slog.String("task_id", task.ID.String()),
		slog.String("title", task.Title),
		slog.String("output", task.OutputPath))

	final := waitForTask(ctx, eng.sched, task.ID, logger)
	eng.sched.Wait()

	switch final.Status {
	case models.StatusCompleted:
		fmt.Println(final.OutputPath)
		return nil
	case models.StatusCancelled:
		return fmt.Errorf("download cancelled")
	default:
		return fmt.Errorf("download failed: %s", final.Error)
	}
}

// waitForTask polls until the task reaches a terminal state, logging
// progress along the way.
func waitForTask(ctx context.Context, sched *engine.Scheduler, id models.ULID, logger *slog.Logger) *models.Task {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastStatus models.Status
	var lastProgress float64

	for {
		task, err := sched.Get(id)
		if err != nil {
			logger.Error("task vanished while waiting", slog.String("task_id", id.String()))
			return &models.Task{ID: id, Status: models.StatusFailed, Error: "task not found"}
		}

		if task.Status != lastStatus || task.Progress-lastProgress >= 1 {
			lastStatus = task.Status
			lastProgress = task.Progress
			attrs := []any{
				slog.String("status", string(task.Status)),
				slog.String("progress", fmt.Sprintf("%.1f%%", task.Progress)),
			}
			if task.Speed != "" {
				attrs = append(attrs, slog.String("speed", task.Speed))
			}
			logger.Info("download progress", attrs...)
		}

		if task.Status.IsTerminal() {
			return task
		}

		// Cancellation propagates through the scheduler context, so keep
		// polling until the task lands in a terminal state.
		<-ticker.C
	}
}
