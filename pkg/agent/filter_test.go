package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/events"
)

func collect(f *Filter, evts ...events.Event) []events.Event {
	var out []events.Event
	f.out = events.EmitterFunc(func(evt events.Event) { out = append(out, evt) })
	for _, evt := range evts {
		f.Emit(evt)
	}
	return out
}

func TestFilterMapsInternalTypes(t *testing.T) {
	cases := []struct {
		in   events.EventType
		want events.EventType
	}{
		{events.ExecutionStarted, events.Executing},
		{events.StepStarted, events.Executing},
		{events.StepCompleted, events.Success},
		{events.StepFailed, events.Error},
		{events.Thinking, events.Thinking},
		{events.PlanReady, events.Thinking},
		{events.ReflectionApplied, events.Thinking},
		{events.SensitiveOperation, events.Thinking},
	}
	for i, tc := range cases {
		f := NewFilter("task-1", nil)
		out := collect(f, events.New(tc.in, "", map[string]interface{}{
			"description": "step", "step_index": i,
		}))
		require.Len(t, out, 1, "type %s", tc.in)
		assert.Equal(t, tc.want, out[0].Type)
		assert.Equal(t, "task-1", out[0].ID)
	}
}

func TestFilterDropsUnknownTypes(t *testing.T) {
	f := NewFilter("task-1", nil)
	out := collect(f, events.New(events.Ready, "", nil))
	assert.Empty(t, out)
}

func TestFilterTruncatesThinkingContent(t *testing.T) {
	f := NewFilter("task-1", nil)
	long := strings.Repeat("分", 80)

	out := collect(f, events.New(events.Thinking, "", map[string]interface{}{
		"content": long, "phase": "planning",
	}))

	require.Len(t, out, 1)
	content, _ := out[0].Data["content"].(string)
	assert.Len(t, []rune(content), summaryLimit)
	assert.Equal(t, "planning", out[0].Data["phase"])
}

func TestFilterForwardsReflectionAsThinking(t *testing.T) {
	f := NewFilter("task-1", nil)

	out := collect(f, events.New(events.ReflectionApplied, "", map[string]interface{}{
		"content":    "应用修复: 改用坐标点击",
		"phase":      "reflection_applied",
		"step_index": 1,
		"reason":     "改用坐标点击",
	}))

	require.Len(t, out, 1)
	assert.Equal(t, events.Thinking, out[0].Type)
	assert.Equal(t, "reflection_applied", out[0].Data["phase"])
	assert.Equal(t, "应用修复: 改用坐标点击", out[0].Data["content"])
}

func TestFilterStripsStepParams(t *testing.T) {
	f := NewFilter("task-1", nil)

	out := collect(f, events.New(events.StepStarted, "", map[string]interface{}{
		"description": "read file",
		"step_index":  0,
		"total_steps": 3,
		"params":      map[string]interface{}{"path": "/home/user/.ssh/id_rsa"},
	}))

	require.Len(t, out, 1)
	assert.Equal(t, "read file", out[0].Data["description"])
	assert.Equal(t, 0, out[0].Data["step_index"])
	assert.Equal(t, 3, out[0].Data["total_steps"])
	assert.NotContains(t, out[0].Data, "params")
}

func TestFilterErrorEventsKeepMessage(t *testing.T) {
	f := NewFilter("task-1", nil)

	out := collect(f, events.New(events.StepFailed, "", map[string]interface{}{
		"description": "click",
		"message":     "element not found",
		"step_index":  1,
	}))

	require.Len(t, out, 1)
	assert.Equal(t, events.Error, out[0].Type)
	assert.Equal(t, "element not found", out[0].Data["message"])
}

func TestFilterSuppressesConsecutiveDuplicates(t *testing.T) {
	f := NewFilter("task-1", nil)
	evt := events.New(events.StepStarted, "", map[string]interface{}{
		"description": "read", "step_index": 0, "total_steps": 1,
	})

	out := collect(f, evt, evt, evt)
	assert.Len(t, out, 1)
}

func TestFilterDistinguishesSteps(t *testing.T) {
	f := NewFilter("task-1", nil)

	out := collect(f,
		events.New(events.StepStarted, "", map[string]interface{}{"description": "read", "step_index": 0}),
		events.New(events.StepStarted, "", map[string]interface{}{"description": "write", "step_index": 1}),
		events.New(events.StepCompleted, "", map[string]interface{}{"description": "write", "step_index": 1}),
	)
	assert.Len(t, out, 3)
}

func TestFilterPassesUserInputEventsThrough(t *testing.T) {
	f := NewFilter("task-1", nil)
	payload := map[string]interface{}{
		"id": "req-1", "type": "login",
		"fields": []interface{}{map[string]interface{}{"name": "username"}},
	}

	out := collect(f, events.New(events.RequestInput, "", payload))

	require.Len(t, out, 1)
	assert.Equal(t, events.RequestInput, out[0].Type)
	assert.Equal(t, "task-1", out[0].ID)
	assert.Equal(t, payload, out[0].Data)
}
