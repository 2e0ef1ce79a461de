package progress

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
)

func event(status models.Status) models.ProgressEvent {
	return models.ProgressEvent{
		TaskID:    models.NewULID(),
		Status:    status,
		Timestamp: time.Now(),
	}
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var a, b atomic.Int32

	bus.Subscribe(func(models.ProgressEvent) { a.Add(1); wg.Done() })
	bus.Subscribe(func(models.ProgressEvent) { b.Add(1); wg.Done() })

	bus.Publish(event(models.StatusDownloading))

	waitDone(t, &wg)
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var count atomic.Int32
	handle := bus.Subscribe(func(models.ProgressEvent) { count.Add(1) })

	bus.Publish(event(models.StatusDownloading))
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	bus.Unsubscribe(handle)
	bus.Publish(event(models.StatusDownloading))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(models.ProgressEvent) { <-block })
	defer close(block)

	done := make(chan struct{})
	go func() {
		// Overflow the queue well past its capacity.
		for i := 0; i < subscriberQueueSize*3; i++ {
			bus.Publish(event(models.StatusDownloading))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBusTerminalEventSurvivesFullQueue(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	block := make(chan struct{})
	var sawTerminal atomic.Bool
	bus.Subscribe(func(ev models.ProgressEvent) {
		if ev.Status.IsTerminal() {
			sawTerminal.Store(true)
		}
		<-block
	})

	for i := 0; i < subscriberQueueSize*2; i++ {
		bus.Publish(event(models.StatusDownloading))
	}
	bus.Publish(event(models.StatusCompleted))
	close(block)

	assert.Eventually(t, func() bool { return sawTerminal.Load() },
		2*time.Second, 5*time.Millisecond)
}

func TestBusCloseIsIdempotentWithPublish(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(func(models.ProgressEvent) {})
	bus.Close()
	bus.Publish(event(models.StatusDownloading))
	bus.Close()
}

func waitDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}
