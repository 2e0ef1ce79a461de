package handlers_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/progress"
)

func startEventsServer(t *testing.T, bus *progress.Bus, throttle time.Duration) *httptest.Server {
	t.Helper()
	handler := handlers.NewEventsHandler(bus, nil)
	handler.SetHeartbeatInterval(time.Hour)
	handler.SetThrottle(throttle)

	router := chi.NewRouter()
	handler.RegisterSSE(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// openStream connects and consumes the initial :connected comment.
func openStream(t *testing.T, url string) (*bufio.Scanner, func()) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	require.Equal(t, ":connected", scanner.Text())

	return scanner, func() { resp.Body.Close() }
}

// readDataLines collects data: payloads until a terminal status arrives.
func readDataLines(t *testing.T, scanner *bufio.Scanner) []models.ProgressEvent {
	t.Helper()
	var events []models.ProgressEvent
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
		if ev.Status.IsTerminal() {
			return events
		}
	}
	t.Fatal("stream ended before a terminal event")
	return nil
}

func TestSSEStreamsEvents(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()
	srv := startEventsServer(t, bus, 0)

	scanner, closeStream := openStream(t, srv.URL+"/api/v1/events")
	defer closeStream()

	taskID := models.NewULID()
	bus.Publish(models.ProgressEvent{TaskID: taskID, Status: models.StatusDownloading, Timestamp: time.Now()})
	bus.Publish(models.ProgressEvent{TaskID: taskID, Status: models.StatusCompleted, Timestamp: time.Now()})

	events := readDataLines(t, scanner)
	require.Len(t, events, 2)
	assert.Equal(t, taskID, events[0].TaskID)
	assert.Equal(t, models.StatusDownloading, events[0].Status)
	assert.Equal(t, models.StatusCompleted, events[1].Status)
}

func TestSSEThrottlesNonTerminalEvents(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()
	srv := startEventsServer(t, bus, time.Hour)

	scanner, closeStream := openStream(t, srv.URL+"/api/v1/events")
	defer closeStream()

	taskID := models.NewULID()
	for i := 0; i < 5; i++ {
		bus.Publish(models.ProgressEvent{TaskID: taskID, Status: models.StatusDownloading, Timestamp: time.Now()})
	}
	bus.Publish(models.ProgressEvent{TaskID: taskID, Status: models.StatusCompleted, Timestamp: time.Now()})

	// First downloading event passes, the next four are throttled, and
	// the terminal event always lands.
	events := readDataLines(t, scanner)
	require.Len(t, events, 2)
	assert.Equal(t, models.StatusDownloading, events[0].Status)
	assert.Equal(t, models.StatusCompleted, events[1].Status)
}

func TestSSEFiltersByTask(t *testing.T) {
	bus := progress.NewBus(nil)
	defer bus.Close()
	srv := startEventsServer(t, bus, 0)

	wanted := models.NewULID()
	other := models.NewULID()

	scanner, closeStream := openStream(t, srv.URL+"/api/v1/events?task_id="+wanted.String())
	defer closeStream()

	bus.Publish(models.ProgressEvent{TaskID: other, Status: models.StatusDownloading, Timestamp: time.Now()})
	bus.Publish(models.ProgressEvent{TaskID: wanted, Status: models.StatusCompleted, Timestamp: time.Now()})

	events := readDataLines(t, scanner)
	require.Len(t, events, 1)
	assert.Equal(t, wanted, events[0].TaskID)
}
