package notify

import (
	"context"
	"sync"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

// Published is one recorded publish.
type Published struct {
	Topic Topic
	Event protocol.Event
}

// Recorder keeps every published event in memory. It is meant for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Notifier.
func (r *Recorder) Publish(_ context.Context, topic Topic, event protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, Published{Topic: topic, Event: event})
	r.mu.Unlock()
}

// All returns every recorded publish in order.
func (r *Recorder) All() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}

// On returns the events published to topic.
func (r *Recorder) On(topic Topic) []protocol.Event {
	var out []protocol.Event
	for _, p := range r.All() {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}

// OfType returns the events of one type published to topic.
func (r *Recorder) OfType(topic Topic, typ protocol.MessageType) []protocol.Event {
	var out []protocol.Event
	for _, ev := range r.On(topic) {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
