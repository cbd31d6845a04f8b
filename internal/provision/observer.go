package provision

import (
	"time"

	"github.com/go-logr/logr"
)

// Observer receives structured progress events during a run. Implementations
// must be cheap; events fire inline with provisioning.
type Observer interface {
	// Event emits one structured event.
	Event(event Event)

	// Progress reports position within the ordered walk.
	Progress(phase string, current, total int)
}

// Event is one structured provisioning event.
type Event struct {
	Type      EventType
	Resource  string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType classifies provisioning events.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	EventLockAcquired EventType = "lock.acquired"
	EventLockReleased EventType = "lock.released"

	EventResourceCreating EventType = "resource.creating"
	EventResourceCreated  EventType = "resource.created"
	EventResourceExists   EventType = "resource.exists"
	EventResourceUpdating EventType = "resource.updating"
	EventResourceUpdated  EventType = "resource.updated"
	EventResourceDeleting EventType = "resource.deleting"
	EventResourceDeleted  EventType = "resource.deleted"
	EventResourceReady    EventType = "resource.ready"
	EventResourceDegraded EventType = "resource.degraded"
	EventResourceFailed   EventType = "resource.failed"
	EventResourceSkipped  EventType = "resource.skipped"

	// EventDestroyPending marks a resource present in state but no longer
	// desired. Apply runs report it and leave it alone; only a destroy run
	// removes it.
	EventDestroyPending EventType = "resource.destroy-pending"
)

// LogObserver writes events through a structured logger.
type LogObserver struct {
	log logr.Logger
}

// NewLogObserver wraps a logger as an Observer.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{log: log}
}

// Event implements Observer.
func (o *LogObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	kv := []any{"type", string(event.Type)}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	for k, v := range event.Fields {
		kv = append(kv, k, v)
	}
	o.log.Info(event.Message, kv...)
}

// Progress implements Observer.
func (o *LogObserver) Progress(phase string, current, total int) {
	o.log.V(1).Info("progress", "phase", phase, "current", current, "total", total)
}

// MultiObserver fans every event out to its members in order.
type MultiObserver []Observer

// Event implements Observer.
func (m MultiObserver) Event(event Event) {
	for _, o := range m {
		o.Event(event)
	}
}

// Progress implements Observer.
func (m MultiObserver) Progress(phase string, current, total int) {
	for _, o := range m {
		o.Progress(phase, current, total)
	}
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Event(Event) {}

func (NopObserver) Progress(string, int, int) {}
