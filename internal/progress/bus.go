// Package progress fans out download progress events to subscribers and
// aggregates per-lane metrics into task-level figures.
package progress

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/models"
)

const subscriberQueueSize = 256

// Bus is a pub/sub fan-out for progress events. Each subscriber runs on
// its own goroutine fed by a bounded queue, so a slow subscriber never
// stalls publishers. When a queue is full, non-terminal events are
// dropped; terminal events evict the oldest queued event instead so
// they always arrive.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	ch   chan models.ProgressEvent
	done chan struct{}
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscriber),
		logger: logger,
	}
}

// Subscribe registers fn to receive every published event and returns a
// handle for Unsubscribe. fn runs on a dedicated goroutine.
func (b *Bus) Subscribe(fn func(models.ProgressEvent)) string {
	sub := &subscriber{
		ch:   make(chan models.ProgressEvent, subscriberQueueSize),
		done: make(chan struct{}),
	}

	handle := uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return handle
	}
	b.subs[handle] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				// Drain what is already queued before exiting.
				for {
					select {
					case ev := <-sub.ch:
						fn(ev)
					default:
						return
					}
				}
			case ev := <-sub.ch:
				fn(ev)
			}
		}
	}()

	return handle
}

// Unsubscribe removes a subscriber. Safe to call with an unknown or
// already removed handle.
func (b *Bus) Unsubscribe(handle string) {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	if ok {
		delete(b.subs, handle)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event models.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for handle, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		if !event.IsTerminal() {
			b.logger.Debug("subscriber queue full, dropping event",
				slog.String("subscriber", handle),
				slog.String("subject", event.SubjectKey()))
			continue
		}

		// Terminal events must land: make room by evicting the oldest.
		for {
			select {
			case sub.ch <- event:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close removes all subscribers. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}
