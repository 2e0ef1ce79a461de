package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/progress"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	// defaultEventThrottle caps the per-lane update rate on the wire.
	// Terminal events bypass the throttle.
	defaultEventThrottle = 200 * time.Millisecond
)

// EventsHandler streams progress events over SSE.
type EventsHandler struct {
	bus               *progress.Bus
	logger            *slog.Logger
	heartbeatInterval time.Duration
	throttle          time.Duration
}

// NewEventsHandler creates an SSE handler fed by the progress bus.
func NewEventsHandler(bus *progress.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		bus:               bus,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
		throttle:          defaultEventThrottle,
	}
}

// SetHeartbeatInterval overrides the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// SetThrottle overrides the per-subject event throttle (for testing).
func (h *EventsHandler) SetThrottle(throttle time.Duration) {
	h.throttle = throttle
}

// RegisterSSE registers the SSE endpoint on a chi router. Huma does not
// stream, so this route bypasses it.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.HandleSSE)
}

// HandleSSE streams progress events to one client until it disconnects.
// Non-terminal events for the same task or lane are throttled; terminal
// events are always delivered.
func (h *EventsHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	taskFilter := r.URL.Query().Get("task_id")

	events := make(chan models.ProgressEvent, 64)
	done := make(chan struct{})
	defer close(done)

	handle := h.bus.Subscribe(func(ev models.ProgressEvent) {
		select {
		case events <- ev:
		case <-done:
		}
	})
	defer h.bus.Unsubscribe(handle)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Debug("initial SSE flush failed", slog.String("error", err.Error()))
		return
	}

	lastSent := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case ev := <-events:
			if taskFilter != "" && ev.TaskID.String() != taskFilter {
				continue
			}

			key := ev.SubjectKey()
			if !ev.IsTerminal() && time.Since(lastSent[key]) < h.throttle {
				continue
			}

			if err := h.writeEvent(w, ev); err != nil {
				h.logger.Debug("SSE write failed",
					slog.String("subject", key),
					slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			lastSent[key] = time.Now()
		}
	}
}

// writeEvent writes one event in SSE wire format.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	message := []byte(fmt.Sprintf("event: progress\ndata: %s\n\n", data))
	n, err := w.Write(message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
