package cycle

import (
	"sync"
	"time"
)

// EventKind identifies the type of cycle event.
type EventKind string

const (
	EventCycleStart        EventKind = "cycle_start"
	EventCycleEnd          EventKind = "cycle_end"
	EventStepStart         EventKind = "step_start"
	EventModelReply        EventKind = "model_reply"
	EventToolCall          EventKind = "tool_call"
	EventToolResult        EventKind = "tool_result"
	EventGuardTripped      EventKind = "guard_tripped"
	EventFundsRejected     EventKind = "funds_rejected"
	EventDecisionCommitted EventKind = "decision_committed"
	EventWarning           EventKind = "warning"
	EventError             EventKind = "error"
)

// CycleEvent is a typed event emitted while a cycle runs.
type CycleEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	CycleID   string                 `json:"cycle_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
type EventEmitter struct {
	cycleID string
	ch      chan CycleEvent
	closed  bool
	mu      sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(cycleID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		cycleID: cycleID,
		ch:      make(chan CycleEvent, bufferSize),
	}
}

// CycleID returns the cycle correlation ID events are stamped with.
func (e *EventEmitter) CycleID() string {
	return e.cycleID
}

// Emit sends an event to the channel. If the emitter is closed, the event
// is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := CycleEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		CycleID:   e.cycleID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the cycle.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan CycleEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
