package reflector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

type fakeModel struct {
	reply    string
	messages []llmtypes.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llmtypes.MessageContent, _ ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	f.messages = messages
	return &llmtypes.ContentResponse{
		Choices: []*llmtypes.ContentChoice{{Content: f.reply}},
	}, nil
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
}

func TestConfigErrorsAreNeverRetried(t *testing.T) {
	model := &fakeModel{reply: `{"is_retryable": true}`}
	r := New(model, Config{}, testLogger(t))

	v := r.AnalyzeFailure(context.Background(),
		types.Step{Type: "send_email"},
		types.Err("SMTP not configured"),
		types.Plan{}, "send the report")

	assert.False(t, v.Retryable)
	assert.Contains(t, v.Reason, "user action required")
	assert.Nil(t, model.messages, "model never consulted for config errors")
}

func TestConfigErrorFlagShortCircuits(t *testing.T) {
	model := &fakeModel{reply: `{"is_retryable": true}`}
	r := New(model, Config{}, testLogger(t))

	result := types.Err("something went wrong")
	result.IsConfigError = true
	v := r.AnalyzeFailure(context.Background(), types.Step{Type: "x"}, result, types.Plan{}, "do x")

	assert.False(t, v.Retryable)
	assert.Nil(t, model.messages)
}

func TestDisabledReflectorRefusesRetry(t *testing.T) {
	r := New(nil, Config{Disabled: true}, testLogger(t))
	v := r.AnalyzeFailure(context.Background(), types.Step{}, types.Err("boom"), types.Plan{}, "task")
	assert.False(t, v.Retryable)
	assert.Equal(t, "reflection disabled", v.Reason)
}

func TestVerdictWithModifiedStep(t *testing.T) {
	model := &fakeModel{reply: `{"is_retryable": true, "reason": "wrong selector", "modified_step": {"type": "browser_click", "description": "click", "params": {"x": 120, "y": 48}}}`}
	r := New(model, Config{}, testLogger(t))

	v := r.AnalyzeFailure(context.Background(),
		types.Step{Type: "browser_click"},
		types.Err("element not found"),
		types.Plan{}, "click the button")

	require.True(t, v.Retryable)
	require.NotNil(t, v.ModifiedStep)
	assert.Equal(t, "browser_click", v.ModifiedStep.Type)
}

func TestVerdictParsedOutOfProse(t *testing.T) {
	model := &fakeModel{reply: "The selector was stale.\n\n" +
		`{"is_retryable": true, "reason": "stale selector"}` + "\n\nRetry should work."}
	r := New(model, Config{}, testLogger(t))

	v := r.AnalyzeFailure(context.Background(), types.Step{Type: "browser_click"},
		types.Err("timeout waiting for element"), types.Plan{}, "click")

	assert.True(t, v.Retryable)
	assert.Equal(t, "stale selector", v.Reason)
}

func TestUnparsableVerdictIsNotRetryable(t *testing.T) {
	model := &fakeModel{reply: "I am not sure what happened here."}
	r := New(model, Config{}, testLogger(t))

	v := r.AnalyzeFailure(context.Background(), types.Step{Type: "browser_click"},
		types.Err("click failed"), types.Plan{}, "click")

	assert.False(t, v.Retryable)
}

func TestTemplateMarkersInModifiedStepRejected(t *testing.T) {
	cases := []string{
		`{"is_retryable": true, "modified_step": {"type": "browser_fill", "params": {"selector": "[USERNAME_FIELD]"}}}`,
		`{"is_retryable": true, "modified_step": {"type": "browser_fill", "params": {"value": "TODO: fill in"}}}`,
		`{"is_retryable": true, "modified_step": {"type": "browser_fill", "params": {"value": "a placeholder value"}}}`,
	}
	for _, reply := range cases {
		model := &fakeModel{reply: reply}
		r := New(model, Config{}, testLogger(t))

		v := r.AnalyzeFailure(context.Background(), types.Step{Type: "browser_fill"},
			types.Err("fill failed"), types.Plan{}, "log in")

		assert.False(t, v.Retryable, "reply %s", reply)
		assert.Equal(t, "cannot extract from context", v.Reason)
	}
}

func TestParseVerdictStrictAndBalanced(t *testing.T) {
	v, err := parseVerdict(`{"is_retryable": false, "reason": "gone"}`)
	require.NoError(t, err)
	assert.False(t, v.Retryable)

	v, err = parseVerdict("```json\n{\"is_retryable\": true, \"reason\": \"ok\"}\n```")
	require.NoError(t, err)
	assert.True(t, v.Retryable)

	_, err = parseVerdict("no json here")
	assert.Error(t, err)
}

func TestMatchesAnyIsCaseInsensitive(t *testing.T) {
	assert.True(t, matchesAny("Element Not Found on page", browserErrorMarkers))
	assert.True(t, matchesAny("邮箱未配置", configErrorMarkers))
	assert.False(t, matchesAny("some unrelated failure", configErrorMarkers))
}
