package sse

import (
	"encoding/json"
	"sync"
)

// Event is one recorded frame.
type Event struct {
	Name string
	Data map[string]any
}

// Buffer is an in-memory Emitter with the same terminal semantics as Writer.
// Data is normalised through JSON so recorded payloads match the wire.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	ended  bool
	// OnEmit, when set, is called after each recorded frame.
	OnEmit func(Event)
}

func (b *Buffer) Emit(event string, data any) bool {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return false
	}
	ev := Event{Name: event, Data: map[string]any{}}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			b.mu.Unlock()
			return false
		}
		_ = json.Unmarshal(raw, &ev.Data)
	}
	b.events = append(b.events, ev)
	if IsTerminal(event) {
		b.ended = true
	}
	hook := b.OnEmit
	b.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return true
}

// Events returns a copy of the recorded frames.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Names returns the recorded event names in order.
func (b *Buffer) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Name
	}
	return out
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Emit(string, any) bool { return true }
