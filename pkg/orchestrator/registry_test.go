package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/orchestrator/types"
)

// fakeExecutor records every step it receives and replays scripted
// results, repeating the last one when the script runs out.
type fakeExecutor struct {
	name    string
	results []types.StepResult
	steps   []types.Step
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) ExecuteStep(_ context.Context, step types.Step, _ *types.ExecutionContext) types.StepResult {
	f.steps = append(f.steps, step)
	if len(f.results) == 0 {
		return types.Ok("ok")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func newTestRegistry(t *testing.T) (*Registry, map[string]*fakeExecutor) {
	t.Helper()
	reg := NewRegistry(testLogger(t))
	fakes := make(map[string]*fakeExecutor)
	for _, family := range []string{
		types.FamilyFileManager, types.FamilyBrowser, types.FamilySystemTools, types.FamilyEmail,
	} {
		f := &fakeExecutor{name: family}
		fakes[family] = f
		reg.Bind(family, f)
	}
	return reg, fakes
}

func TestResolveRoutesByFamily(t *testing.T) {
	reg, _ := newTestRegistry(t)

	cases := map[string]string{
		"file_read":        types.FamilyFileManager,
		"browser_navigate": types.FamilyBrowser,
		"open_app":         types.FamilySystemTools,
		"send_email":       types.FamilyEmail,
		"reminder_add":     types.FamilySystemTools,
	}
	for stepType, family := range cases {
		ex, _, err := reg.Resolve(types.Step{Type: stepType})
		require.NoError(t, err)
		assert.Equal(t, family, ex.Name(), "step type %s", stepType)
	}
}

func TestResolveUnknownTypeFallsBackToSystemTools(t *testing.T) {
	reg, _ := newTestRegistry(t)

	ex, step, err := reg.Resolve(types.Step{Type: "made_up_step"})
	require.NoError(t, err)
	assert.Equal(t, types.FamilySystemTools, ex.Name())
	assert.Equal(t, "made_up_step", step.Type)
}

func TestResolveRepairsFamilyNamedSteps(t *testing.T) {
	reg, _ := newTestRegistry(t)

	cases := []struct {
		step     types.Step
		wantType string
	}{
		{types.Step{Type: "file_manager", Action: "read", Description: "read the report"}, "file_read"},
		{types.Step{Type: "file_operation", Description: "删除临时文件"}, "file_delete"},
		{types.Step{Type: "FileManager", Description: "整理下载文件夹"}, "file_organize"},
		{types.Step{Type: "file_manager", Description: "do something"}, "file_delete"},
		{types.Step{Type: "app_control", Description: "关闭微信"}, "close_app"},
		{types.Step{Type: "app_control", Description: "launch Safari"}, "open_app"},
	}
	for _, tc := range cases {
		_, repaired, err := reg.Resolve(tc.step)
		require.NoError(t, err)
		assert.Equal(t, tc.wantType, repaired.Type, "input %q / %q", tc.step.Type, tc.step.Description)
	}
}

func TestResolveUnboundFamilyErrors(t *testing.T) {
	reg := NewRegistry(testLogger(t))
	_, _, err := reg.Resolve(types.Step{Type: "file_read"})
	assert.Error(t, err)
}
