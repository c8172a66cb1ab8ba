package testutil

import (
	"sync"

	"github.com/markduk/portalmover/internal/importer"
)

// EventRecorder collects import events in delivery order. Its Record
// method is an importer.EventHandler.
type EventRecorder struct {
	mu     sync.Mutex
	events []importer.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Record appends ev.
func (r *EventRecorder) Record(ev importer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []importer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]importer.Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *EventRecorder) Kinds() []importer.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]importer.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Reset drops every recorded event.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
