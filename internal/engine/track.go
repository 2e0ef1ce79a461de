package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/segment"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// errTrackAbsent marks a language missing from the master playlist.
var errTrackAbsent = errors.New("track not present in master playlist")

// trackOutcome is the typed result of one track pipeline run.
type trackOutcome struct {
	status   models.Status
	artifact string
	bytes    int64
	err      error
}

// trackJob carries everything one lane needs to run.
type trackJob struct {
	task    *models.Task
	sub     *models.SubTask
	scratch string
	referer string
	// masterURL is the master playlist for this lane's language.
	masterURL string
	quality   string
}

// runTrack drives one lane through parse, select, fetch, and convert.
// The lane kinds share the pipeline shape and differ in selection and
// conversion only.
func (o *Orchestrator) runTrack(ctx context.Context, job trackJob) trackOutcome {
	master, err := o.parser.Fetch(ctx, job.masterURL, job.referer)
	if err != nil {
		return failedOutcome(fmt.Errorf("fetching master playlist: %w", err))
	}

	mediaURL, err := o.selectMedia(master, job)
	if err != nil {
		if errors.Is(err, errTrackAbsent) {
			return trackOutcome{status: models.StatusNotFound, err: err}
		}
		return failedOutcome(err)
	}

	media := master
	if media.Kind != hls.KindMedia {
		media, err = o.parser.Fetch(ctx, mediaURL, job.referer)
		if err != nil {
			return failedOutcome(fmt.Errorf("fetching media playlist: %w", err))
		}
	}
	if media.Kind != hls.KindMedia {
		return failedOutcome(fmt.Errorf("expected media playlist at %s", mediaURL))
	}

	var key []byte
	if media.Encryption != nil {
		if media.Encryption.Method != hls.EncryptionAES128 {
			return failedOutcome(fmt.Errorf("unsupported encryption method %q", media.Encryption.Method))
		}
		key, err = o.client.GetBody(ctx, media.Encryption.KeyURL, httpclient.WithReferer(job.referer))
		if err != nil {
			return failedOutcome(fmt.Errorf("fetching decryption key: %w", err))
		}
	}

	intermediate := filepath.Join(job.scratch, intermediateName(job.sub))
	err = o.fetcher.Fetch(ctx, segment.Request{
		Segments:   media.Segments,
		Referer:    job.referer,
		Encryption: media.Encryption,
		Key:        key,
		OutputPath: intermediate,
		ScratchDir: filepath.Join(job.scratch, "segments_"+job.sub.ID.String()),
		OnProgress: func(tick segment.Tick) {
			o.onSegmentTick(job.task, job.sub, tick)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return trackOutcome{status: models.StatusCancelled, err: ctx.Err()}
		}
		return failedOutcome(fmt.Errorf("downloading segments: %w", err))
	}
	defer os.Remove(intermediate)

	o.announceConversion(job.task, job.sub)

	artifact := filepath.Join(job.scratch, artifactName(job.sub))
	if err := o.convert(ctx, job, intermediate, artifact); err != nil {
		if ctx.Err() != nil {
			return trackOutcome{status: models.StatusCancelled, err: ctx.Err()}
		}
		return failedOutcome(err)
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return failedOutcome(fmt.Errorf("stat converted artifact: %w", err))
	}

	return trackOutcome{
		status:   models.StatusCompleted,
		artifact: artifact,
		bytes:    info.Size(),
	}
}

// selectMedia picks the media playlist URL for the lane and records the
// selected title and resolution on the sub-task.
func (o *Orchestrator) selectMedia(master *hls.Playlist, job trackJob) (string, error) {
	switch job.sub.Kind {
	case models.TrackVideo:
		// Some embeds hand out the media playlist directly.
		if master.Kind == hls.KindMedia {
			return master.URL, nil
		}
		variant, ok := hls.SelectVariant(master.Variants, job.quality)
		if !ok {
			return "", fmt.Errorf("master playlist has no video variants")
		}
		o.state.Mutate(func() {
			job.sub.Resolution = variant.Resolution
		})
		return variant.URL, nil

	case models.TrackAudio:
		track, ok := hls.SelectTrack(master.AudioTracks, job.sub.Language)
		if !ok || track.URL == "" {
			return "", errTrackAbsent
		}
		o.state.Mutate(func() {
			job.sub.Title = track.Name
		})
		return track.URL, nil

	case models.TrackSubtitle:
		track, ok := hls.SelectTrack(master.SubtitleTracks, job.sub.Language)
		if !ok || track.URL == "" {
			return "", errTrackAbsent
		}
		o.state.Mutate(func() {
			job.sub.Title = track.Name
		})
		return track.URL, nil
	}
	return "", fmt.Errorf("unknown track kind %q", job.sub.Kind)
}

// convert turns the concatenated stream into the lane's container.
func (o *Orchestrator) convert(ctx context.Context, job trackJob, intermediate, artifact string) error {
	key := job.task.ID.String() + ":" + job.sub.ID.String()

	switch job.sub.Kind {
	case models.TrackVideo:
		return o.runner.Run(ctx, key, ffmpeg.VideoConvertArgs(intermediate, artifact), nil)
	case models.TrackAudio:
		return o.runner.Run(ctx, key, ffmpeg.AudioConvertArgs(intermediate, artifact), nil)
	case models.TrackSubtitle:
		return collapseWebVTTFile(intermediate, artifact)
	}
	return fmt.Errorf("unknown track kind %q", job.sub.Kind)
}

func collapseWebVTTFile(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening subtitle stream: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating subtitle artifact: %w", err)
	}
	defer out.Close()

	if err := CollapseWebVTTHeaders(in, out); err != nil {
		return fmt.Errorf("rewriting subtitle headers: %w", err)
	}
	return out.Close()
}

func intermediateName(sub *models.SubTask) string {
	switch sub.Kind {
	case models.TrackVideo:
		return "video.ts"
	case models.TrackAudio:
		return "audio_" + sub.Language + ".ts"
	default:
		return "subtitle_" + sub.Language + ".ts"
	}
}

func artifactName(sub *models.SubTask) string {
	switch sub.Kind {
	case models.TrackVideo:
		return "video.mp4"
	case models.TrackAudio:
		return "audio_" + sub.Language + ".m4a"
	default:
		return "subtitle_" + sub.Language + ".vtt"
	}
}

func conversionMessage(kind models.TrackKind) string {
	switch kind {
	case models.TrackVideo:
		return "Converting to MP4"
	case models.TrackAudio:
		return "Converting to M4A"
	default:
		return "Converting to WebVTT"
	}
}

func failedOutcome(err error) trackOutcome {
	return trackOutcome{status: models.StatusFailed, err: err}
}

func (o *Orchestrator) logTrack(sub *models.SubTask) *slog.Logger {
	return o.logger.With(
		slog.String("sub_task_id", sub.ID.String()),
		slog.String("kind", string(sub.Kind)),
		slog.String("language", sub.Language))
}
