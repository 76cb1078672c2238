package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/orchestrator/types"
	"deskjarvis/agent/pkg/security"
)

type fakeRunner struct {
	sources []string
}

func (f *fakeRunner) RunScript(_ context.Context, source string) types.StepResult {
	f.sources = append(f.sources, source)
	return types.Ok("script ran")
}

func newTestGate(t *testing.T, runner ScriptRunner, next types.Executor) *ScriptGate {
	t.Helper()
	log := testLogger(t)
	return NewScriptGate(security.NewAuditor(t.TempDir(), log), runner, next, log)
}

func TestScriptGateRunsAuditedCode(t *testing.T) {
	runner := &fakeRunner{}
	gate := newTestGate(t, runner, nil)

	result := gate.ExecuteStep(context.Background(), types.Step{
		Type:   "execute_python_script",
		Params: map[string]interface{}{"code": "print(1 + 1)"},
	}, types.NewExecutionContext())

	require.True(t, result.Success)
	require.Len(t, runner.sources, 1)
	assert.Equal(t, "print(1 + 1)", runner.sources[0])
}

func TestScriptGateRejectsForbiddenImports(t *testing.T) {
	runner := &fakeRunner{}
	gate := newTestGate(t, runner, nil)

	result := gate.ExecuteStep(context.Background(), types.Step{
		Type:   "python",
		Params: map[string]interface{}{"code": "import subprocess\nsubprocess.run(['ls'])"},
	}, types.NewExecutionContext())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "script rejected")
	assert.Empty(t, runner.sources)
}

func TestScriptGateWithoutRunnerIsConfigError(t *testing.T) {
	gate := newTestGate(t, nil, nil)

	result := gate.ExecuteStep(context.Background(), types.Step{
		Type:   "python_script",
		Params: map[string]interface{}{"script": "print('hi')"},
	}, types.NewExecutionContext())

	assert.False(t, result.Success)
	assert.True(t, result.IsConfigError)
}

func TestScriptGateRequiresCode(t *testing.T) {
	gate := newTestGate(t, &fakeRunner{}, nil)

	result := gate.ExecuteStep(context.Background(), types.Step{
		Type: "code_interpreter",
	}, types.NewExecutionContext())

	assert.False(t, result.Success)
}

func TestScriptGatePassesOtherStepsToNext(t *testing.T) {
	next := &recordingExecutor{}
	gate := newTestGate(t, &fakeRunner{}, next)

	result := gate.ExecuteStep(context.Background(), types.Step{Type: "get_system_info"}, types.NewExecutionContext())

	assert.True(t, result.Success)
	require.Len(t, next.steps, 1)
	assert.Equal(t, "get_system_info", next.steps[0].Type)
}
