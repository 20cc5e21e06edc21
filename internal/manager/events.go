package manager

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Event names published by the manager.
const (
	EventModelLoaded         = "model_loaded"
	EventModelLoadFailed     = "model_load_failed"
	EventAdmissionRejected   = "admission_rejected"
	EventGenerationStarted   = "generation_started"
	EventGenerationCompleted = "generation_completed"
	EventGenerationFailed    = "generation_failed"
	EventGenerationTimeout   = "generation_timeout"
	EventGenerationCancelled = "generation_cancelled"
	EventGenerationReclaimed = "generation_reclaimed"
	EventBudgetClamped       = "budget_clamped"
	EventTaskRestarted       = "task_restarted"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + request ID and optional fields via key/values.
type Event struct {
	Name      string
	RequestID string
	Fields    map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events as structured log lines.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) *LogPublisher { return &LogPublisher{log: l} }

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Info()
	switch e.Name {
	case EventGenerationFailed, EventModelLoadFailed, EventTaskRestarted:
		ev = p.log.Error()
	case EventGenerationTimeout, EventGenerationReclaimed, EventAdmissionRejected:
		ev = p.log.Warn()
	case EventGenerationStarted, EventGenerationCompleted, EventBudgetClamped, EventGenerationCancelled:
		ev = p.log.Debug()
	}
	ev = ev.Str("event", e.Name)
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	ev.Fields(e.Fields).Msg("")
}

// Fanout publishes every event to each publisher in order.
type Fanout []EventPublisher

func (f Fanout) Publish(e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}

// AsyncPublisher decouples the hot path from a slow publisher through a
// bounded buffer. Events are dropped when the buffer is full.
type AsyncPublisher struct {
	next    EventPublisher
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

func NewAsyncPublisher(next EventPublisher, buffer int) *AsyncPublisher {
	if buffer < 1 {
		buffer = 256
	}
	p := &AsyncPublisher{next: next, ch: make(chan Event, buffer), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for e := range p.ch {
		p.next.Publish(e)
	}
}

func (p *AsyncPublisher) Publish(e Event) {
	select {
	case p.ch <- e:
	default:
		p.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer.
func (p *AsyncPublisher) Dropped() uint64 { return p.dropped.Load() }

// Close drains buffered events. Publish must not be called afterwards.
func (p *AsyncPublisher) Close() {
	close(p.ch)
	<-p.done
}
