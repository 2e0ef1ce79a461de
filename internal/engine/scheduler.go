package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jmylchreest/vodarr/internal/catalog"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/progress"
)

// queuedBroadcastBatch throttles QUEUED events during batch admits.
const queuedBroadcastBatch = 5

// SchedulerConfig collects the admission knobs.
type SchedulerConfig struct {
	// MaxParallel bounds tasks in active orchestration.
	MaxParallel int
	// DownloadDir is the root for completed artifacts.
	DownloadDir string
	// DefaultLanguages applies when an admit carries no languages.
	DefaultLanguages []string
	// DefaultQuality applies when an admit carries no quality.
	DefaultQuality string
	// MinFreeSpace rejects admits when the download volume runs low.
	// Zero disables the check.
	MinFreeSpace int64
}

// AdmitRequest asks the scheduler to download one piece of content.
type AdmitRequest struct {
	Kind      models.ContentKind
	ContentID string
	Season    int
	Episode   int
	Languages []string
	Quality   string
}

// Scheduler owns the task map and queue. All task access is serialized
// through its lock; external observers only ever see clones.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[models.ULID]*models.Task
	order   []models.ULID
	queue   []models.ULID
	cancels map[models.ULID]context.CancelFunc

	cfg      SchedulerConfig
	catalog  catalog.Provider
	orch     *Orchestrator
	bus      *progress.Bus
	registry *ffmpeg.Registry
	logger   *slog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Attach the orchestrator with
// SetOrchestrator before admitting tasks.
func NewScheduler(ctx context.Context, cfg SchedulerConfig, cat catalog.Provider, bus *progress.Bus, registry *ffmpeg.Registry, logger *slog.Logger) *Scheduler {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = "best"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:    make(map[models.ULID]*models.Task),
		cancels:  make(map[models.ULID]context.CancelFunc),
		cfg:      cfg,
		catalog:  cat,
		bus:      bus,
		registry: registry,
		logger:   logger,
		baseCtx:  ctx,
	}
}

// SetOrchestrator attaches the orchestrator that executes admitted
// tasks. The orchestrator in turn uses this scheduler as its TaskState.
func (s *Scheduler) SetOrchestrator(o *Orchestrator) {
	s.orch = o
}

// Admit resolves metadata, creates a queued task, and starts it if an
// execution slot is free.
func (s *Scheduler) Admit(ctx context.Context, req AdmitRequest) (*models.Task, error) {
	if err := s.checkFreeSpace(); err != nil {
		return nil, err
	}
	s.applyDefaults(&req)
	if len(req.Languages) == 0 {
		return nil, fmt.Errorf("no languages requested and no defaults configured")
	}

	title, outputPath, err := s.describe(ctx, req)
	if err != nil {
		return nil, err
	}

	task := s.newTask(req, title, outputPath)

	// Clone before admitPending can hand the task to an orchestration
	// goroutine; reads outside the lock would race with its writes.
	s.mu.Lock()
	s.insertLocked(task)
	ev := queuedEvent(task)
	clone := task.Clone()
	s.mu.Unlock()

	s.bus.Publish(ev)
	s.admitPending()

	return clone, nil
}

// AdmitSeason creates one task per episode of a season with a single
// metadata fetch. QUEUED events are broadcast once per batch of five
// tasks rather than per task.
func (s *Scheduler) AdmitSeason(ctx context.Context, contentID string, season int, languages []string, quality string) ([]*models.Task, error) {
	if err := s.checkFreeSpace(); err != nil {
		return nil, err
	}

	req := AdmitRequest{Kind: models.KindEpisode, ContentID: contentID, Season: season, Languages: languages, Quality: quality}
	s.applyDefaults(&req)

	show, err := s.catalog.Show(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("looking up show: %w", err)
	}
	episodes, err := s.catalog.SeasonEpisodes(ctx, contentID, season)
	if err != nil {
		return nil, fmt.Errorf("listing season %d: %w", season, err)
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("season %d has no episodes", season)
	}

	var clones []*models.Task
	var events []models.ProgressEvent

	s.mu.Lock()
	for i, ep := range episodes {
		r := req
		r.Episode = ep.Episode
		title := fmt.Sprintf("%s S%02dE%02d", show.Title, season, ep.Episode)
		outputPath := EpisodePath(s.cfg.DownloadDir, show.Title, season, ep.Episode, ep.Name)

		task := s.newTask(r, title, outputPath)
		s.insertLocked(task)
		clones = append(clones, task.Clone())

		if (i+1)%queuedBroadcastBatch == 0 || i == len(episodes)-1 {
			events = append(events, queuedEvent(task))
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.bus.Publish(ev)
	}
	s.admitPending()

	return clones, nil
}

// Cancel moves a task to cancelled from any non-terminal state, kills
// its process trees, and stops its orchestration. Cancelling a
// terminal task is a no-op.
func (s *Scheduler) Cancel(id models.ULID) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	if task.Status.IsTerminal() {
		s.mu.Unlock()
		return nil
	}

	s.removeFromQueueLocked(id)
	ev, _ := s.transitionLocked(task, models.StatusCancelled, "")
	cancel := s.cancels[id]
	s.mu.Unlock()

	s.registry.KillTask(id.String())
	if cancel != nil {
		cancel()
	}
	s.bus.Publish(ev)
	return nil
}

// List returns clones of all tasks in admission order.
func (s *Scheduler) List() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Task, 0, len(s.order))
	for _, id := range s.order {
		if task, ok := s.tasks[id]; ok {
			out = append(out, task.Clone())
		}
	}
	return out
}

// Get returns a clone of one task.
func (s *Scheduler) Get(id models.ULID) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return task.Clone(), nil
}

// ClearCompleted removes terminal tasks and reports how many were
// dropped. Tasks whose orchestration goroutine has not yet returned
// are kept so their cleanup finishes first.
func (s *Scheduler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []models.ULID
	removed := 0
	for _, id := range s.order {
		task := s.tasks[id]
		_, running := s.cancels[id]
		if task != nil && task.Status.IsTerminal() && !running {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// EvictOlderThan removes terminal tasks whose completion predates the
// cutoff. The maintenance sweep calls this on a schedule.
func (s *Scheduler) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []models.ULID
	removed := 0
	for _, id := range s.order {
		task := s.tasks[id]
		_, running := s.cancels[id]
		if task != nil && task.Status.IsTerminal() && !running &&
			task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// Wait blocks until every running orchestration goroutine returns.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Mutate implements TaskState.
func (s *Scheduler) Mutate(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

// Transition implements TaskState.
func (s *Scheduler) Transition(task *models.Task, to models.Status, errMsg string) bool {
	s.mu.Lock()
	ev, ok := s.transitionLocked(task, to, errMsg)
	s.mu.Unlock()

	if ok {
		s.bus.Publish(ev)
		if to.IsTerminal() {
			s.admitPending()
		}
	}
	return ok
}

// transitionLocked applies a status change under the lock. Rejected
// transitions are logged and leave the task untouched.
func (s *Scheduler) transitionLocked(task *models.Task, to models.Status, errMsg string) (models.ProgressEvent, bool) {
	if task.Status == to {
		return models.ProgressEvent{}, false
	}
	if !models.CanTransition(task.Status, to) {
		s.logger.Warn("rejected task transition",
			slog.String("task_id", task.ID.String()),
			slog.String("from", string(task.Status)),
			slog.String("to", string(to)))
		return models.ProgressEvent{}, false
	}

	task.Status = to
	if errMsg != "" {
		task.Error = errMsg
	}
	now := time.Now()
	switch {
	case to == models.StatusExtracting:
		task.StartedAt = &now
	case to.IsTerminal():
		task.CompletedAt = &now
		task.Speed = ""
		task.ETASeconds = 0
	}

	ev := models.ProgressEvent{
		TaskID:       task.ID,
		Status:       to,
		Progress:     models.Float64Ptr(task.Progress),
		ErrorMessage: task.Error,
		Timestamp:    now,
	}
	return ev, true
}

// admitPending starts queued tasks while execution slots are free,
// FIFO. It runs after every admit and every terminal transition.
func (s *Scheduler) admitPending() {
	if s.orch == nil {
		return
	}

	for {
		s.mu.Lock()
		active := 0
		for _, task := range s.tasks {
			if task.Status.IsActive() {
				active++
			}
		}
		if active >= s.cfg.MaxParallel || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		id := s.queue[0]
		s.queue = s.queue[1:]
		task, ok := s.tasks[id]
		if !ok || task.Status != models.StatusQueued {
			s.mu.Unlock()
			continue
		}

		ev, ok := s.transitionLocked(task, models.StatusExtracting, "")
		if !ok {
			s.mu.Unlock()
			continue
		}

		ctx, cancel := context.WithCancel(s.baseCtx)
		s.cancels[id] = cancel
		s.wg.Add(1)
		s.mu.Unlock()

		s.bus.Publish(ev)

		go func(task *models.Task, ctx context.Context, cancel context.CancelFunc) {
			defer s.wg.Done()
			s.orch.Run(ctx, task)
			cancel()

			s.mu.Lock()
			delete(s.cancels, task.ID)
			s.mu.Unlock()

			s.admitPending()
		}(task, ctx, cancel)
	}
}

func (s *Scheduler) applyDefaults(req *AdmitRequest) {
	if len(req.Languages) == 0 {
		req.Languages = append([]string(nil), s.cfg.DefaultLanguages...)
	}
	if req.Quality == "" {
		req.Quality = s.cfg.DefaultQuality
	}
}

// describe fetches metadata and derives the task title and output path.
func (s *Scheduler) describe(ctx context.Context, req AdmitRequest) (string, string, error) {
	if req.Kind == models.KindMovie {
		movie, err := s.catalog.Movie(ctx, req.ContentID)
		if err != nil {
			return "", "", fmt.Errorf("looking up movie: %w", err)
		}
		return movie.Title, MoviePath(s.cfg.DownloadDir, movie.Title, movie.Year), nil
	}

	show, err := s.catalog.Show(ctx, req.ContentID)
	if err != nil {
		return "", "", fmt.Errorf("looking up show: %w", err)
	}
	ep, err := s.catalog.Episode(ctx, req.ContentID, req.Season, req.Episode)
	if err != nil {
		return "", "", fmt.Errorf("looking up episode: %w", err)
	}

	title := fmt.Sprintf("%s S%02dE%02d", show.Title, req.Season, req.Episode)
	return title, EpisodePath(s.cfg.DownloadDir, show.Title, req.Season, req.Episode, ep.Name), nil
}

func (s *Scheduler) newTask(req AdmitRequest, title, outputPath string) *models.Task {
	return &models.Task{
		ID:         models.NewULID(),
		Kind:       req.Kind,
		ContentID:  req.ContentID,
		Season:     req.Season,
		Episode:    req.Episode,
		Languages:  append([]string(nil), req.Languages...),
		Quality:    req.Quality,
		Title:      title,
		OutputPath: outputPath,
		Status:     models.StatusQueued,
		CreatedAt:  time.Now(),
	}
}

func (s *Scheduler) insertLocked(task *models.Task) {
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.queue = append(s.queue, task.ID)
}

func (s *Scheduler) removeFromQueueLocked(id models.ULID) {
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// checkFreeSpace rejects new work when the download volume is close to
// full, so a long queue cannot run the disk out mid-mux.
func (s *Scheduler) checkFreeSpace() error {
	if s.cfg.MinFreeSpace <= 0 {
		return nil
	}
	usage, err := disk.Usage(s.cfg.DownloadDir)
	if err != nil {
		// The guard is advisory; a stat failure should not block admits.
		s.logger.Debug("free space check failed", slog.String("error", err.Error()))
		return nil
	}
	if usage.Free < uint64(s.cfg.MinFreeSpace) {
		return fmt.Errorf("insufficient free space: %d bytes free, %d required", usage.Free, s.cfg.MinFreeSpace)
	}
	return nil
}

func queuedEvent(task *models.Task) models.ProgressEvent {
	return models.ProgressEvent{
		TaskID:    task.ID,
		Status:    models.StatusQueued,
		Timestamp: time.Now(),
	}
}
