package agent

import (
	"sync"

	"deskjarvis/agent/pkg/events"
)

// summaryLimit caps the thinking-event text shown to the host.
const summaryLimit = 50

// Filter funnels internal task events onto the host stream: internal
// types map onto the host vocabulary, payloads are sanitized down to the
// fields the host renders, and consecutive duplicates are suppressed.
type Filter struct {
	taskID string
	out    events.Emitter

	mu       sync.Mutex
	lastType events.EventType
	lastDesc string
	lastStep int
	primed   bool
}

// NewFilter wraps the outbound emitter for one task.
func NewFilter(taskID string, out events.Emitter) *Filter {
	return &Filter{taskID: taskID, out: out}
}

// Emit implements events.Emitter.
func (f *Filter) Emit(evt events.Event) {
	// User-input events pass through untouched; the host dialogs need the
	// full payload.
	switch evt.Type {
	case events.UserInputRequest, events.RequestInput, events.WaitingForInput:
		evt.ID = f.taskID
		f.out.Emit(evt)
		return
	}

	mapped, ok := events.HostType(evt.Type)
	if !ok {
		return
	}

	data := sanitize(mapped, evt.Data)
	desc, _ := data["description"].(string)
	stepIndex := -1
	if v, ok := data["step_index"].(int); ok {
		stepIndex = v
	}

	f.mu.Lock()
	if f.primed && f.lastType == mapped && f.lastDesc == desc && f.lastStep == stepIndex {
		f.mu.Unlock()
		return
	}
	f.lastType, f.lastDesc, f.lastStep, f.primed = mapped, desc, stepIndex, true
	f.mu.Unlock()

	evt.Type = mapped
	evt.ID = f.taskID
	evt.Data = data
	f.out.Emit(evt)
}

// sanitize keeps only the fields the host renders for each mapped type.
// Raw step params and internal objects never reach the stream.
func sanitize(mapped events.EventType, data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, 4)
	switch mapped {
	case events.Thinking:
		if phase, ok := data["phase"].(string); ok {
			out["phase"] = phase
		}
		if content, ok := data["content"].(string); ok {
			out["content"] = truncate(content, summaryLimit)
		} else if desc, ok := data["description"].(string); ok {
			out["content"] = truncate(desc, summaryLimit)
		}

	case events.Executing, events.Success:
		copyStepFields(data, out)

	case events.Error:
		if msg, ok := data["message"].(string); ok {
			out["message"] = msg
		} else if msg, ok := data["error"].(string); ok {
			out["message"] = msg
		}
		copyStepFields(data, out)
	}
	return out
}

func copyStepFields(data map[string]interface{}, out map[string]interface{}) {
	if desc, ok := data["description"].(string); ok {
		out["description"] = desc
	}
	if v, ok := asInt(data["step_index"]); ok {
		out["step_index"] = v
	}
	if v, ok := asInt(data["total_steps"]); ok {
		out["total_steps"] = v
	}
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	}
	return 0, false
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
