package events

import (
	"context"
	"sync"
)

// Sink captures events in memory and exposes deterministic snapshots. The
// service uses one per run to back the event history endpoint; tests use it
// to assert on the stream.
type Sink struct {
	mu     sync.RWMutex
	events []Event
}

var _ Publisher = (*Sink)(nil)

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{events: make([]Event, 0)}
}

// Publish implements Publisher.
func (s *Sink) Publish(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of the captured stream in publish order.
func (s *Sink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns just the event types, in order. Convenient in tests.
func (s *Sink) Types() []Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Type, len(s.events))
	for i, event := range s.events {
		out[i] = event.Type
	}
	return out
}
