// Package maintenance runs the periodic housekeeping sweep: orphaned
// scratch directories and expired terminal tasks.
package maintenance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/startup"
)

// Config holds the sweep schedule and retention knobs.
type Config struct {
	// Schedule is a 6-field cron expression with a seconds column.
	Schedule string
	// TempDir is the scratch root scanned for orphans.
	TempDir string
	// OrphanAge is the minimum age before a scratch dir counts as orphaned.
	OrphanAge time.Duration
	// TaskRetention evicts terminal tasks older than this.
	TaskRetention time.Duration
}

// Sweeper schedules and runs the maintenance sweep.
type Sweeper struct {
	cfg    Config
	sched  *engine.Scheduler
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper creates a sweeper bound to the task scheduler.
func NewSweeper(cfg Config, sched *engine.Scheduler, logger *slog.Logger) *Sweeper {
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = startup.DefaultCleanupAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:    cfg,
		sched:  sched,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start registers the sweep on the cron schedule and starts it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.Sweep); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("maintenance sweep scheduled",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("task_retention", s.cfg.TaskRetention),
		slog.Duration("orphan_age", s.cfg.OrphanAge))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one maintenance pass. Safe to call directly, the serve
// command runs it once at startup before scheduling.
func (s *Sweeper) Sweep() {
	removed, err := startup.CleanupOrphanedScratchDirs(s.logger, s.cfg.TempDir, s.cfg.OrphanAge, s.taskActive)
	if err != nil {
		s.logger.Warn("scratch sweep failed", slog.String("error", err.Error()))
	}

	evicted := 0
	if s.cfg.TaskRetention > 0 {
		evicted = s.sched.EvictOlderThan(time.Now().Add(-s.cfg.TaskRetention))
	}

	if removed > 0 || evicted > 0 {
		s.logger.Info("maintenance sweep finished",
			slog.Int("scratch_dirs_removed", removed),
			slog.Int("tasks_evicted", evicted))
	}
}

// taskActive reports whether a scratch dir belongs to a task that is
// still known and not terminal.
func (s *Sweeper) taskActive(id models.ULID) bool {
	task, err := s.sched.Get(id)
	if err != nil {
		return false
	}
	return !task.Status.IsTerminal()
}
