package agentloop

import (
	"context"
	"time"
)

// EventKind identifies the type of lifecycle event a directive produces.
type EventKind string

const (
	EventThinking      EventKind = "thinking"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventFinalText     EventKind = "final_text"
	EventCancelled     EventKind = "cancelled"
	EventError         EventKind = "error"
	EventMaxIterations EventKind = "max_iterations"
	EventStatus        EventKind = "status"
)

// terminal reports whether the event ends the directive's event sequence.
func (k EventKind) terminal() bool {
	switch k {
	case EventFinalText, EventCancelled, EventError, EventMaxIterations:
		return true
	}
	return false
}

// Event is one lifecycle event emitted while a directive runs.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// emitter delivers events for one directive over a bounded channel. Sends
// block rather than drop so a slow consumer sees every event in order; a
// cancelled context unblocks a stalled send so the loop goroutine never
// leaks.
type emitter struct {
	sessionID string
	ch        chan Event
}

func newEmitter(sessionID string, bufferSize int) *emitter {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &emitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

func (e *emitter) emit(ctx context.Context, kind EventKind, data map[string]interface{}) {
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

func (e *emitter) events() <-chan Event {
	return e.ch
}

func (e *emitter) close() {
	close(e.ch)
}
