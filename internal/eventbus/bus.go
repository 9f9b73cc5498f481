// Package eventbus fans light status reports out to subscribers through a
// bounded worker pool.
package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/light"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeStatus is emitted after a command completes.
	EventTypeStatus EventType = "status"
	// EventTypePush is emitted when the bridge reports a change on its own.
	EventTypePush EventType = "push"
)

const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event carries one status report.
type Event struct {
	Type    EventType
	LightID int
	Status  light.Status
}

// Handler is a function that handles events
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	closed   bool

	workQueue chan work
	wg        sync.WaitGroup
}

// Subscription is a registered handler. Unsubscribe removes it.
type Subscription struct {
	bus       *Bus
	eventType EventType
	id        string
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType]map[string]Handler),
		workQueue: make(chan work, queueSize),
	}
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := uuid.NewString()
	b.handlers[eventType][id] = handler
	return &Subscription{bus: b, eventType: eventType, id: id}
}

// Unsubscribe removes the handler. Events already queued may still be delivered.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers[s.eventType], s.id)
}

func (b *Bus) subscribers(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish queues the event for every subscribed handler. It never blocks:
// when the queue is full or the bus is closed the event is dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Int("light", event.LightID).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events, drains the queue and waits for workers
// until ctx is done.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.workQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
