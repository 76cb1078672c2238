package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/orchestrator/reflector"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// fakeAnalyzer replays scripted verdicts.
type fakeAnalyzer struct {
	verdicts []reflector.Verdict
	calls    int
}

func (f *fakeAnalyzer) AnalyzeFailure(_ context.Context, _ types.Step, _ types.StepResult, _ types.Plan, _ string) reflector.Verdict {
	f.calls++
	if len(f.verdicts) == 0 {
		return reflector.Verdict{Retryable: false, Reason: "no verdict scripted"}
	}
	v := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}
	return v
}

func newTestPlanExecutor(t *testing.T, analyzer FailureAnalyzer, emitter events.Emitter) (*PlanExecutor, map[string]*fakeExecutor) {
	t.Helper()
	reg, fakes := newTestRegistry(t)
	ex := NewPlanExecutor(reg, analyzer, emitter, testLogger(t))
	ex.sensitiveTimeout = 200 * time.Millisecond
	ex.pollInterval = 10 * time.Millisecond
	ex.retryDelay = 10 * time.Millisecond
	return ex, fakes
}

func plan(steps ...types.Step) types.Plan { return types.Plan{Steps: steps} }

func TestExecutePlanRunsAllSteps(t *testing.T) {
	ex, fakes := newTestPlanExecutor(t, nil, events.Discard)
	ec := types.NewExecutionContext()

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_create", Description: "create"},
		types.Step{Type: "file_read", Description: "read"},
	), "make a file", ec)

	assert.True(t, result.Success)
	assert.Len(t, result.Steps, 2)
	assert.Len(t, fakes[types.FamilyFileManager].steps, 2)
	assert.Equal(t, "make a file", result.UserInstruction)
}

func TestExecutePlanStopsOnTerminalConfigError(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	ex, fakes := newTestPlanExecutor(t, analyzer, events.Discard)
	fakes[types.FamilyEmail].results = []types.StepResult{types.ConfigErr("email not configured")}

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "send_email", Description: "send"},
		types.Step{Type: "file_read", Description: "never runs"},
	), "send the report", types.NewExecutionContext())

	assert.False(t, result.Success)
	assert.Len(t, result.Steps, 1)
	assert.Zero(t, analyzer.calls, "config errors skip reflection")
	assert.Empty(t, fakes[types.FamilyFileManager].steps)
}

func TestExecutePlanRetriesWithModifiedStep(t *testing.T) {
	modified := types.Step{Type: "browser_click", Description: "click again", Params: map[string]interface{}{"x": 10, "y": 20}}
	analyzer := &fakeAnalyzer{verdicts: []reflector.Verdict{
		{Retryable: true, Reason: "selector wrong", ModifiedStep: &modified},
	}}
	var emitted []events.Event
	ex, fakes := newTestPlanExecutor(t, analyzer, events.EmitterFunc(func(evt events.Event) {
		emitted = append(emitted, evt)
	}))
	fakes[types.FamilyBrowser].results = []types.StepResult{
		types.Err("element not found"),
		types.Ok("clicked"),
	}

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "browser_click", Description: "click", Params: map[string]interface{}{"selector": "#missing"}},
	), "click the button", types.NewExecutionContext())

	require.True(t, result.Success)
	steps := fakes[types.FamilyBrowser].steps
	require.Len(t, steps, 2)
	assert.Equal(t, "click again", steps[1].Description)
	assert.Equal(t, 1, analyzer.calls)

	var reflections []events.Event
	for _, evt := range emitted {
		if evt.Type == events.ReflectionApplied {
			reflections = append(reflections, evt)
		}
	}
	require.Len(t, reflections, 1)
	assert.Equal(t, "reflection_applied", reflections[0].Data["phase"])
	assert.Equal(t, "应用修复: selector wrong", reflections[0].Data["content"])
}

func TestExecutePlanGivesUpWhenNotRetryable(t *testing.T) {
	analyzer := &fakeAnalyzer{verdicts: []reflector.Verdict{{Retryable: false, Reason: "permanent"}}}
	ex, fakes := newTestPlanExecutor(t, analyzer, events.Discard)
	fakes[types.FamilyBrowser].results = []types.StepResult{types.Err("element not found")}

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "browser_click", Description: "click"},
	), "click", types.NewExecutionContext())

	assert.False(t, result.Success)
	assert.Len(t, fakes[types.FamilyBrowser].steps, 1)
}

func TestExecutePlanForcesReflectionOnUnresolvedPlaceholder(t *testing.T) {
	analyzer := &fakeAnalyzer{verdicts: []reflector.Verdict{{Retryable: false, Reason: "cannot extract from context"}}}
	ex, fakes := newTestPlanExecutor(t, analyzer, events.Discard)

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_read", Description: "read", Params: map[string]interface{}{
			"path": "{{step5.file_path}}",
		}},
	), "read a file", types.NewExecutionContext())

	assert.False(t, result.Success)
	assert.Empty(t, fakes[types.FamilyFileManager].steps, "step with NULL_ID params never dispatches")
	assert.Equal(t, 1, analyzer.calls)
}

func TestSensitiveStepWaitsForConfirmation(t *testing.T) {
	ex, fakes := newTestPlanExecutor(t, nil, events.Discard)
	ec := types.NewExecutionContext()

	go func() {
		time.Sleep(30 * time.Millisecond)
		ec.Set(types.ConfirmationKey(0), true)
	}()

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_delete", Description: "[SENSITIVE] delete the report"},
	), "delete it", ec)

	assert.True(t, result.Success)
	assert.Len(t, fakes[types.FamilyFileManager].steps, 1)
}

func TestSensitiveStepDeniedOrTimedOut(t *testing.T) {
	ex, fakes := newTestPlanExecutor(t, nil, events.Discard)
	ec := types.NewExecutionContext()
	ec.Set(types.ConfirmationKey(0), false)

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_delete", Description: "[SENSITIVE] delete the report"},
	), "delete it", ec)

	assert.False(t, result.Success)
	assert.Equal(t, "user did not confirm", result.Message)
	assert.Empty(t, fakes[types.FamilyFileManager].steps)

	// No confirmation at all times out to the same outcome.
	result = ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_delete", Description: "[SENSITIVE] delete"},
	), "delete it", types.NewExecutionContext())
	assert.False(t, result.Success)
	assert.Equal(t, "user did not confirm", result.Message)
}

func TestStopSignalCancelsPlan(t *testing.T) {
	ex, fakes := newTestPlanExecutor(t, nil, events.Discard)
	ec := types.NewExecutionContext()
	stop := types.NewStopSignal()
	ec.BindStop(stop)
	stop.Stop()

	result := ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_read", Description: "read"},
	), "read", ec)

	assert.False(t, result.Success)
	assert.Equal(t, "task cancelled", result.Message)
	assert.Empty(t, fakes[types.FamilyFileManager].steps)
}

func TestStepEventsCarryProgressFields(t *testing.T) {
	var seen []events.Event
	emitter := events.EmitterFunc(func(evt events.Event) { seen = append(seen, evt) })
	ex, _ := newTestPlanExecutor(t, nil, emitter)

	ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_read", Description: "read the file"},
	), "read", types.NewExecutionContext())

	var typesSeen []events.EventType
	for _, evt := range seen {
		typesSeen = append(typesSeen, evt.Type)
	}
	assert.Contains(t, typesSeen, events.ExecutionStarted)
	assert.Contains(t, typesSeen, events.StepStarted)
	assert.Contains(t, typesSeen, events.StepCompleted)

	for _, evt := range seen {
		if evt.Type == events.StepStarted {
			assert.Equal(t, "read the file", evt.Data["description"])
			assert.Equal(t, 0, evt.Data["step_index"])
			assert.Equal(t, 1, evt.Data["total_steps"])
		}
	}
}

func TestResultDataFlowsBetweenSteps(t *testing.T) {
	ex, fakes := newTestPlanExecutor(t, nil, events.Discard)
	fakes[types.FamilyFileManager].results = []types.StepResult{
		types.OkData("created", map[string]interface{}{"file_path": "/tmp/out.txt"}),
		types.Ok("read"),
	}

	ex.ExecutePlan(context.Background(), plan(
		types.Step{Type: "file_create", Description: "create"},
		types.Step{Type: "file_read", Description: "read", Params: map[string]interface{}{
			"path": "{{step1.file_path}}",
		}},
	), "create then read", types.NewExecutionContext())

	steps := fakes[types.FamilyFileManager].steps
	require.Len(t, steps, 2)
	assert.Equal(t, "/tmp/out.txt", steps[1].Params["path"])
}
