package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/progress"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/segment"
	"github.com/jmylchreest/vodarr/pkg/format"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// TaskState serializes access to task objects. The scheduler owns the
// lock; the orchestrator mutates tasks only inside Mutate and moves
// statuses only through Transition.
type TaskState interface {
	// Mutate runs fn while holding the task-map lock.
	Mutate(fn func())
	// Transition applies a status change when the state machine allows
	// it, stamps timestamps, and publishes the resulting event. It
	// reports whether the change was applied.
	Transition(task *models.Task, to models.Status, errMsg string) bool
}

// OrchestratorConfig collects the orchestration knobs.
type OrchestratorConfig struct {
	TempDir     string
	TaskTimeout time.Duration
	// DefaultQuality applies when a task carries no quality hint.
	DefaultQuality string
}

// Orchestrator fans one task out into track pipelines, applies the
// failure policy over their outcomes, and muxes the survivors.
type Orchestrator struct {
	cfg      OrchestratorConfig
	resolver resolver.Resolver
	parser   *hls.Parser
	fetcher  *segment.Fetcher
	runner   *ffmpeg.Runner
	client   *httpclient.Client
	bus      *progress.Bus
	meter    *progress.Meter
	trackSem *semaphore.Weighted
	state    TaskState
	logger   *slog.Logger
}

// NewOrchestrator wires an orchestrator. trackConcurrency bounds track
// pipelines across every concurrently running task.
func NewOrchestrator(
	cfg OrchestratorConfig,
	res resolver.Resolver,
	parser *hls.Parser,
	fetcher *segment.Fetcher,
	runner *ffmpeg.Runner,
	client *httpclient.Client,
	bus *progress.Bus,
	state TaskState,
	trackConcurrency int,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Hour
	}
	if trackConcurrency <= 0 {
		trackConcurrency = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		resolver: res,
		parser:   parser,
		fetcher:  fetcher,
		runner:   runner,
		client:   client,
		bus:      bus,
		meter:    progress.NewMeter(),
		trackSem: semaphore.NewWeighted(int64(trackConcurrency)),
		state:    state,
		logger:   logger,
	}
}

// Run executes one admitted task to a terminal state. The caller has
// already moved the task to extracting.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task) {
	log := o.logger.With(slog.String("task_id", task.ID.String()))

	scratch := filepath.Join(o.cfg.TempDir, task.ID.String())

	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestration panicked", slog.Any("panic", r))
			o.fail(task, fmt.Sprintf("internal error: %v", r))
		}
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("removing scratch dir", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(scratch, 0o755); err != nil {
		o.fail(task, fmt.Sprintf("creating scratch dir: %v", err))
		return
	}

	resolutions, primary := o.resolveLanguages(ctx, task)
	if primary == nil {
		if ctx.Err() != nil {
			o.finishCancelled(task)
			return
		}
		o.fail(task, "content not available in any requested language")
		return
	}

	subs := o.fanOut(task, resolutions, primary)
	o.publishTask(task, "")

	if !o.state.Transition(task, models.StatusDownloading, "") {
		return
	}

	outcomes := o.runTracks(ctx, task, subs, scratch, resolutions, primary)
	if ctx.Err() != nil {
		o.finishCancelled(task)
		return
	}

	if msg, failed := o.applyFailurePolicy(task, subs, outcomes); failed {
		o.fail(task, msg)
		return
	}

	if err := o.mux(ctx, task, subs, outcomes); err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(task)
			return
		}
		o.fail(task, fmt.Sprintf("muxing output: %v", err))
		return
	}

	o.state.Mutate(func() {
		task.Progress = 100
		task.DownloadedBytes = task.TotalBytes
	})
	o.state.Transition(task, models.StatusCompleted, "")
	log.Info("task completed", slog.String("output", task.OutputPath))
}

// resolveLanguages resolves the master playlist per requested language.
// The first language that resolves becomes the video lane's source.
func (o *Orchestrator) resolveLanguages(ctx context.Context, task *models.Task) (map[string]*resolver.Resolution, *resolver.Resolution) {
	resolutions := make(map[string]*resolver.Resolution, len(task.Languages))
	var primary *resolver.Resolution

	for _, lang := range task.Languages {
		res, err := o.resolver.Resolve(ctx, resolver.Request{
			Kind:      task.Kind,
			ContentID: task.ContentID,
			Season:    task.Season,
			Episode:   task.Episode,
			Language:  lang,
		})
		if err != nil {
			o.logger.Debug("language did not resolve",
				slog.String("task_id", task.ID.String()),
				slog.String("language", lang),
				slog.String("error", err.Error()))
			resolutions[lang] = nil
			continue
		}
		resolutions[lang] = res
		if primary == nil {
			primary = res
		}
	}
	return resolutions, primary
}

// fanOut populates the task's sub-task tree: one video lane plus one
// audio and one subtitle lane per language. Lanes whose language never
// resolved are born not_found.
func (o *Orchestrator) fanOut(task *models.Task, resolutions map[string]*resolver.Resolution, primary *resolver.Resolution) []*models.SubTask {
	var subs []*models.SubTask

	video := &models.SubTask{
		ID:     models.NewULID(),
		TaskID: task.ID,
		Kind:   models.TrackVideo,
		Status: models.StatusQueued,
	}
	subs = append(subs, video)

	for _, lang := range task.Languages {
		status := models.StatusQueued
		if resolutions[lang] == nil {
			status = models.StatusNotFound
		}
		subs = append(subs,
			&models.SubTask{
				ID: models.NewULID(), TaskID: task.ID,
				Kind: models.TrackAudio, Language: lang, Status: status,
			},
			&models.SubTask{
				ID: models.NewULID(), TaskID: task.ID,
				Kind: models.TrackSubtitle, Language: lang, Status: status,
			})
	}

	o.state.Mutate(func() {
		task.SubTasks = subs
	})
	return subs
}

// runTracks starts every runnable lane on the shared track executor and
// waits for all of them. A video failure cancels the remaining lanes.
func (o *Orchestrator) runTracks(ctx context.Context, task *models.Task, subs []*models.SubTask, scratch string, resolutions map[string]*resolver.Resolution, primary *resolver.Resolution) map[*models.SubTask]trackOutcome {
	laneCtx, cancelLanes := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancelLanes()

	quality := task.Quality
	if quality == "" {
		quality = o.cfg.DefaultQuality
	}

	var mu sync.Mutex
	outcomes := make(map[*models.SubTask]trackOutcome, len(subs))

	// Lane goroutines launched on earlier iterations may already be
	// writing outcomes, so even the launching goroutine takes mu.
	setOutcome := func(sub *models.SubTask, outcome trackOutcome) {
		mu.Lock()
		outcomes[sub] = outcome
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		if sub.Status == models.StatusNotFound {
			setOutcome(sub, trackOutcome{status: models.StatusNotFound})
			o.finishSub(task, sub, models.StatusNotFound, "")
			continue
		}

		res := primary
		if sub.Kind != models.TrackVideo {
			res = resolutions[sub.Language]
		}
		if res == nil {
			setOutcome(sub, trackOutcome{status: models.StatusNotFound})
			o.finishSub(task, sub, models.StatusNotFound, "")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logTrack(sub).Error("track pipeline panicked", slog.Any("panic", r))
					setOutcome(sub, failedOutcome(fmt.Errorf("internal error: %v", r)))
					o.finishSub(task, sub, models.StatusFailed, fmt.Sprintf("internal error: %v", r))
				}
			}()

			if err := o.trackSem.Acquire(laneCtx, 1); err != nil {
				setOutcome(sub, trackOutcome{status: models.StatusCancelled, err: err})
				o.finishSub(task, sub, models.StatusCancelled, "")
				return
			}
			defer o.trackSem.Release(1)

			o.state.Mutate(func() {
				sub.Status = models.StatusDownloading
			})
			o.publishSub(task, sub, "")

			outcome := o.runTrack(laneCtx, trackJob{
				task:      task,
				sub:       sub,
				scratch:   scratch,
				referer:   res.RefererURL,
				masterURL: res.MasterPlaylistURL,
				quality:   quality,
			})

			setOutcome(sub, outcome)

			errMsg := ""
			if outcome.err != nil {
				errMsg = outcome.err.Error()
			}
			if outcome.status == models.StatusCompleted {
				o.state.Mutate(func() {
					sub.TempPath = outcome.artifact
					sub.DownloadedBytes = outcome.bytes
					sub.TotalBytes = outcome.bytes
				})
			}
			o.finishSub(task, sub, outcome.status, errMsg)

			// A dead video lane makes the task unsalvageable; stop the rest.
			if sub.Kind == models.TrackVideo && outcome.status == models.StatusFailed {
				cancelLanes()
			}
		}()
	}

	wg.Wait()
	return outcomes
}

// applyFailurePolicy inspects lane outcomes after the wait.
// Video failure or a fully failed audio set fails the task; subtitle
// failures only log.
func (o *Orchestrator) applyFailurePolicy(task *models.Task, subs []*models.SubTask, outcomes map[*models.SubTask]trackOutcome) (string, bool) {
	var audioFailed, audioCompleted int

	for _, sub := range subs {
		outcome := outcomes[sub]
		switch sub.Kind {
		case models.TrackVideo:
			if outcome.status != models.StatusCompleted {
				msg := "Video track failed to download"
				if outcome.err != nil {
					msg += ": " + outcome.err.Error()
				}
				return msg, true
			}
		case models.TrackAudio:
			switch outcome.status {
			case models.StatusFailed:
				audioFailed++
			case models.StatusCompleted:
				audioCompleted++
			}
		case models.TrackSubtitle:
			if outcome.status == models.StatusFailed {
				o.logTrack(sub).Warn("subtitle track failed",
					slog.String("error", errString(outcome.err)))
			}
		}
	}

	if audioFailed > 0 && audioCompleted == 0 {
		return "no audio tracks downloaded successfully", true
	}
	return "", false
}

// mux combines the completed artifacts into the final output. With no
// separate audio or subtitle artifacts the video file is copied as-is.
func (o *Orchestrator) mux(ctx context.Context, task *models.Task, subs []*models.SubTask, outcomes map[*models.SubTask]trackOutcome) error {
	if !o.state.Transition(task, models.StatusMerging, "") {
		return fmt.Errorf("task no longer eligible for merge")
	}
	o.state.Mutate(func() {
		task.Progress = 0
		task.Speed = ""
		task.ETASeconds = 0
	})
	o.publishTask(task, "Merging tracks")

	var videoPath string
	var audio, subtitles []ffmpeg.TrackInput

	for _, sub := range subs {
		outcome := outcomes[sub]
		if outcome.status != models.StatusCompleted {
			continue
		}
		switch sub.Kind {
		case models.TrackVideo:
			videoPath = outcome.artifact
		case models.TrackAudio:
			audio = append(audio, ffmpeg.TrackInput{
				Path: outcome.artifact, Language: sub.Language, Title: sub.Title,
			})
		case models.TrackSubtitle:
			subtitles = append(subtitles, ffmpeg.TrackInput{
				Path: outcome.artifact, Language: sub.Language, Title: sub.Title,
			})
		}
	}
	if videoPath == "" {
		return fmt.Errorf("no video artifact to mux")
	}

	if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if len(audio) == 0 && len(subtitles) == 0 {
		return copyFile(videoPath, task.OutputPath)
	}

	return o.runner.Run(ctx, task.ID.String(),
		ffmpeg.MuxArgs(videoPath, audio, subtitles, task.OutputPath),
		func(u ffmpeg.Update) {
			o.state.Mutate(func() {
				task.Progress = u.Percent
			})
			o.publishTask(task, "")
		})
}

// onSegmentTick folds one fetcher tick into the sub-task and republishes
// both the lane and the aggregated task.
func (o *Orchestrator) onSegmentTick(task *models.Task, sub *models.SubTask, tick segment.Tick) {
	o.meter.Observe(sub.ID.String(), tick.BytesPerSecond, tick.ETASeconds)

	var agg progress.Aggregate
	o.state.Mutate(func() {
		sub.Progress = tick.Percent
		sub.DownloadedBytes = tick.DownloadedBytes
		sub.TotalBytes = tick.TotalBytesEstimate
		sub.Speed = format.Speed(tick.BytesPerSecond)
		sub.ETASeconds = tick.ETASeconds

		agg = o.meter.Aggregate(task.SubTasks)
		task.Progress = agg.Progress
		task.DownloadedBytes = agg.DownloadedBytes
		task.TotalBytes = agg.TotalBytes
		task.Speed = format.Speed(agg.BytesPerSecond)
		task.ETASeconds = agg.ETASeconds
	})

	o.publishSub(task, sub, "")
	o.publishTask(task, "")
}

// announceConversion marks the segments phase complete on the lane.
func (o *Orchestrator) announceConversion(task *models.Task, sub *models.SubTask) {
	o.state.Mutate(func() {
		sub.Progress = 100
		sub.Speed = ""
		sub.ETASeconds = 0
	})
	o.meter.Forget(sub.ID.String())
	o.publishSub(task, sub, conversionMessage(sub.Kind))
}

// finishSub applies a lane's terminal status and publishes it.
func (o *Orchestrator) finishSub(task *models.Task, sub *models.SubTask, status models.Status, errMsg string) {
	o.meter.Forget(sub.ID.String())
	o.state.Mutate(func() {
		sub.Status = status
		sub.Error = errMsg
		sub.Speed = ""
		sub.ETASeconds = 0
		if status == models.StatusCompleted {
			sub.Progress = 100
		}
	})
	o.publishSub(task, sub, "")
}

func (o *Orchestrator) fail(task *models.Task, msg string) {
	o.state.Transition(task, models.StatusFailed, msg)
}

// finishCancelled lets the scheduler-side cancellation stand; the
// transition is a no-op when the task is already cancelled.
func (o *Orchestrator) finishCancelled(task *models.Task) {
	o.state.Transition(task, models.StatusCancelled, "")
}

// publishTask emits a task-level event from the current task state.
func (o *Orchestrator) publishTask(task *models.Task, message string) {
	var ev models.ProgressEvent
	o.state.Mutate(func() {
		ev = models.ProgressEvent{
			TaskID:          task.ID,
			Status:          task.Status,
			Progress:        models.Float64Ptr(task.Progress),
			DownloadedBytes: models.Int64Ptr(task.DownloadedBytes),
			TotalBytes:      models.Int64Ptr(task.TotalBytes),
			DownloadSpeed:   task.Speed,
			ETASeconds:      models.Int64Ptr(task.ETASeconds),
			Message:         message,
			ErrorMessage:    task.Error,
			Timestamp:       time.Now(),
		}
	})
	o.bus.Publish(ev)
}

// publishSub emits a lane-level event from the current sub-task state.
func (o *Orchestrator) publishSub(task *models.Task, sub *models.SubTask, message string) {
	var ev models.ProgressEvent
	o.state.Mutate(func() {
		id := sub.ID
		ev = models.ProgressEvent{
			TaskID:          task.ID,
			SubTaskID:       &id,
			Status:          sub.Status,
			Progress:        models.Float64Ptr(sub.Progress),
			DownloadedBytes: models.Int64Ptr(sub.DownloadedBytes),
			TotalBytes:      models.Int64Ptr(sub.TotalBytes),
			DownloadSpeed:   sub.Speed,
			ETASeconds:      models.Int64Ptr(sub.ETASeconds),
			Message:         message,
			ErrorMessage:    sub.Error,
			Timestamp:       time.Now(),
		}
	})
	o.bus.Publish(ev)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening video artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying video artifact: %w", err)
	}
	return out.Close()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
