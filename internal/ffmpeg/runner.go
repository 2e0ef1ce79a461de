package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultProcessTimeout caps the wall clock of one ffmpeg invocation.
const DefaultProcessTimeout = 2 * time.Hour

// ErrProcessTimeout reports an invocation that outlived its wall-clock cap.
var ErrProcessTimeout = errors.New("ffmpeg process timed out")

// Runner executes ffmpeg invocations, streams their merged output
// through the progress parser, and keeps the process registry current.
type Runner struct {
	detector *BinaryDetector
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner. A zero timeout selects the default.
func NewRunner(detector *BinaryDetector, registry *Registry, timeout time.Duration, logger *slog.Logger) *Runner {
	if detector == nil {
		detector = NewBinaryDetector()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{detector: detector, registry: registry, timeout: timeout, logger: logger}
}

// Registry exposes the process registry for cancellation routing.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run invokes ffmpeg with args, registered under key, feeding parsed
// progress samples to onProgress. It blocks until the process exits,
// the context is cancelled, or the wall-clock timeout fires. On
// cancellation and timeout the whole process tree is killed.
func (r *Runner) Run(ctx context.Context, key string, args []string, onProgress func(Update)) error {
	info, err := r.detector.Detect(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.Command(info.Path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	r.registry.Register(key, cmd.Process)
	defer r.registry.Unregister(key)

	r.logger.Debug("ffmpeg started",
		slog.String("key", key),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("args", strings.Join(args, " ")))

	// Kill the tree as soon as the context ends; cmd.Wait then returns.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			r.registry.Kill(key)
		case <-watchDone:
		}
	}()

	lastLine := r.scanOutput(stdout, onProgress)

	waitErr := cmd.Wait()
	close(watchDone)

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case runCtx.Err() != nil:
		return ErrProcessTimeout
	case waitErr != nil:
		if lastLine != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, lastLine)
		}
		return fmt.Errorf("ffmpeg failed: %w", waitErr)
	}
	return nil
}

// scanOutput reads merged ffmpeg output line by line, emitting progress
// samples and remembering the last non-progress line for error context.
// ffmpeg terminates status lines with carriage returns, so those are
// treated as line breaks too.
func (r *Runner) scanOutput(out io.Reader, onProgress func(Update)) string {
	parser := NewProgressParser()
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	scanner.Split(scanCRLF)

	var lastLine string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if update, ok := parser.ParseLine(line); ok {
			if onProgress != nil {
				onProgress(update)
			}
			continue
		}
		lastLine = line
	}
	return lastLine
}

// scanCRLF splits on \n or lone \r.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
