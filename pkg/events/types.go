package events

import (
	"encoding/json"
	"time"
)

// EventType identifies one message on the host wire.
type EventType string

// Protocol lifecycle events, written by the server loop.
const (
	Ready       EventType = "ready"
	Pong        EventType = "pong"
	StopAck     EventType = "stop_ack"
	ShutdownAck EventType = "shutdown_ack"
	Result      EventType = "result"
)

// Task progress events, emitted while a plan runs.
const (
	ExecutionStarted   EventType = "execution_started"
	StepStarted        EventType = "step_started"
	StepCompleted      EventType = "step_completed"
	StepFailed         EventType = "step_failed"
	Thinking           EventType = "thinking"
	PlanReady          EventType = "plan_ready"
	ReflectionApplied  EventType = "reflection_applied"
	SensitiveOperation EventType = "sensitive_operation_detected"
	Error              EventType = "error"
)

// Host-facing types produced by the event filter.
const (
	Executing EventType = "executing"
	Success   EventType = "success"
)

// User-input side channel events.
const (
	UserInputRequest EventType = "user_input_request"
	RequestInput     EventType = "request_input"
	WaitingForInput  EventType = "waiting_for_input"
)

// Event is one line on the outbound stream. Protocol replies (ready, pong,
// acks, result) use their own flat structs in the server loop; everything
// else goes through this envelope.
type Event struct {
	Type      EventType              `json:"type" jsonschema:"required"`
	ID        string                 `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp" jsonschema:"type=number,description=Unix seconds"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// MarshalJSON renders the timestamp as Unix seconds. The host protocol
// carries float timestamps on every line, not RFC3339 strings.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      EventType              `json:"type"`
		ID        string                 `json:"id,omitempty"`
		Timestamp float64                `json:"timestamp"`
		Data      map[string]interface{} `json:"data,omitempty"`
	}
	return json.Marshal(wire{
		Type:      e.Type,
		ID:        e.ID,
		Timestamp: float64(e.Timestamp.UnixNano()) / 1e9,
		Data:      e.Data,
	})
}

// New builds an event for the given task id.
func New(t EventType, taskID string, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		ID:        taskID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// HostType maps an internal progress event to the type the host renders.
// The second return is false for events the host never sees.
func HostType(t EventType) (EventType, bool) {
	switch t {
	case ExecutionStarted, StepStarted:
		return Executing, true
	case StepCompleted:
		return Success, true
	case StepFailed, Error:
		return Error, true
	case Thinking, PlanReady, ReflectionApplied, SensitiveOperation:
		return Thinking, true
	case UserInputRequest, RequestInput, WaitingForInput:
		return t, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the event ends a task's stream.
func IsTerminal(t EventType) bool {
	return t == Result || t == ShutdownAck
}
