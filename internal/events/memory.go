// README: In-memory publisher used by unit tests and local runs.
package events

import (
	"context"
	"sync"
)

type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (m *MemoryPublisher) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Recorded returns a copy of everything published so far.
func (m *MemoryPublisher) Recorded() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType filters recorded events by type.
func (m *MemoryPublisher) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Recorded() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
