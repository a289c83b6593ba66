package orchestrator

import (
	"sync"
	"time"

	"github.com/sells-group/directory-cli/internal/model"
)

// EventType names a loop transition.
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventStepStarted   EventType = "step_started"
	EventStepRetried   EventType = "step_retried"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventStepSkipped   EventType = "step_skipped"
	EventJobFinished   EventType = "job_finished"
)

// Event is published on every step transition and at job start and end.
type Event struct {
	Type       EventType
	EntityID   string
	EntityType model.EntityType
	Step       string
	Service    string
	Status     model.OverallStatus // job_finished only
	Reason     string
	ErrKind    model.ErrorKind
	Metrics    model.StepMetrics
	At         time.Time
}

// Handler receives events. Handlers run synchronously on the loop goroutine
// and must not block.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers h.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to every handler. A nil Bus drops events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	hs := b.handlers
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
