package planner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
)

type fakeModel struct {
	reply    string
	err      error
	calls    int
	lastMsgs []llmtypes.MessageContent
	lastOpts llmtypes.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llmtypes.MessageContent, options ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	m.calls++
	m.lastMsgs = messages
	opts := llmtypes.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &llmtypes.ContentResponse{
		Choices: []*llmtypes.ContentChoice{{Content: m.reply}},
	}, nil
}

func newTestPlanner(t *testing.T, model llmtypes.Model, cfg Config) *Planner {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "planner.log"), "debug")
	return New(model, cfg, log)
}

func messageText(t *testing.T, msg llmtypes.MessageContent) string {
	t.Helper()
	require.NotEmpty(t, msg.Parts)
	text, ok := msg.Parts[0].(llmtypes.TextContent)
	require.True(t, ok, "expected a text part")
	return text.Text
}

func TestParsePlanVariants(t *testing.T) {
	envelope := `{"steps":[{"type":"open_app","description":"打开微信","params":{"app_name":"微信"}}]}`
	bareArray := `[{"type":"file_read","params":{"path":"/tmp/a.txt"}},{"type":"text_process","params":{"text":"hello","action":"summarize"}}]`

	tests := []struct {
		name      string
		reply     string
		wantTypes []string
		wantErr   bool
	}{
		{name: "strict envelope", reply: envelope, wantTypes: []string{"open_app"}},
		{name: "bare array", reply: bareArray, wantTypes: []string{"file_read", "text_process"}},
		{name: "fenced envelope", reply: "```json\n" + envelope + "\n```", wantTypes: []string{"open_app"}},
		{name: "fenced bare array", reply: "```\n" + bareArray + "\n```", wantTypes: []string{"file_read", "text_process"}},
		{name: "prose around envelope", reply: "Here is the plan:\n" + envelope + "\nLet me know.", wantTypes: []string{"open_app"}},
		{name: "prose around array keeps every step", reply: "Plan: " + bareArray + " done", wantTypes: []string{"file_read", "text_process"}},
		{name: "single step object", reply: `{"type":"screenshot_desktop","description":"截图","params":{}}`, wantTypes: []string{"screenshot_desktop"}},
		{name: "empty-type steps dropped", reply: `{"steps":[{"type":"  "},{"type":"open_app"}]}`, wantTypes: []string{"open_app"}},
		{name: "explicit empty plan", reply: `{"steps":[]}`, wantTypes: []string{}},
		{name: "plain refusal", reply: "I cannot do that.", wantErr: true},
		{name: "empty reply", reply: "", wantErr: true},
		{name: "unbalanced json", reply: `{"steps": [ {"type": "open_app"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, plan.Empty())
				return
			}
			require.NoError(t, err)
			got := make([]string, 0, len(plan.Steps))
			for _, s := range plan.Steps {
				got = append(got, s.Type)
			}
			assert.Equal(t, tt.wantTypes, got)
		})
	}
}

func TestParsePlanBraceInsideString(t *testing.T) {
	reply := `Before {"steps":[{"type":"file_write","params":{"path":"/tmp/x","content":"}"}}]} after`
	plan, err := ParsePlan(reply)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "file_write", plan.Steps[0].Type)
	assert.Equal(t, "}", plan.Steps[0].Params["content"])
}

func TestPlanHappyPath(t *testing.T) {
	model := &fakeModel{reply: `{"steps":[{"type":"set_volume","description":"把音量调到50","params":{"level":50}}]}`}
	p := newTestPlanner(t, model, Config{Temperature: 0.1})

	plan, err := p.Plan(context.Background(), "把音量调到50%", "")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "set_volume", plan.Steps[0].Type)

	require.Len(t, model.lastMsgs, 2)
	system := messageText(t, model.lastMsgs[0])
	user := messageText(t, model.lastMsgs[1])

	assert.Contains(t, system, "file_delete")
	assert.Contains(t, system, "browser_fill")
	assert.Contains(t, system, "send_email")
	assert.Contains(t, system, "[SENSITIVE]")
	assert.Contains(t, system, "{{step1.file_path}}")
	assert.Contains(t, system, `"steps"`)

	assert.Contains(t, user, "把音量调到50%")
	assert.NotContains(t, user, memorySectionHeader)

	assert.True(t, model.lastOpts.JSONMode)
	assert.Equal(t, maxPlanTokens, model.lastOpts.MaxTokens)
	assert.InDelta(t, 0.1, model.lastOpts.Temperature, 1e-9)
}

func TestPlanIncludesMemoryContext(t *testing.T) {
	model := &fakeModel{reply: `{"steps":[]}`}
	p := newTestPlanner(t, model, Config{})

	_, err := p.Plan(context.Background(), "整理下载目录", "**用户偏好**\n- lang: zh")
	require.NoError(t, err)

	user := messageText(t, model.lastMsgs[1])
	assert.Contains(t, user, memorySectionHeader)
	assert.Contains(t, user, "lang: zh")
	assert.Contains(t, user, "整理下载目录")
}

func TestPlanTrimsOversizedMemoryContext(t *testing.T) {
	model := &fakeModel{reply: `{"steps":[]}`}
	p := newTestPlanner(t, model, Config{})

	huge := strings.Repeat("用户喜欢按日期整理下载的报告。", 20000)
	_, err := p.Plan(context.Background(), "整理下载目录", huge)
	require.NoError(t, err)

	user := messageText(t, model.lastMsgs[1])
	assert.Contains(t, user, "...(记忆已截断)")
	assert.Less(t, len(user), len(huge)/2, "memory context should have been trimmed hard")
	assert.Contains(t, user, "整理下载目录")
}

func TestPlanDropsMemoryContextWhenBudgetTiny(t *testing.T) {
	model := &fakeModel{reply: `{"steps":[]}`}
	p := newTestPlanner(t, model, Config{PromptBudget: 1})

	_, err := p.Plan(context.Background(), "打开计算器", "**用户偏好**\n- lang: zh")
	require.NoError(t, err)

	user := messageText(t, model.lastMsgs[1])
	assert.NotContains(t, user, memorySectionHeader)
	assert.Contains(t, user, "打开计算器")
}

func TestPlanModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	p := newTestPlanner(t, model, Config{})

	plan, err := p.Plan(context.Background(), "打开计算器", "")
	require.Error(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanUnparsableReply(t *testing.T) {
	model := &fakeModel{reply: "抱歉，我无法帮你完成这个任务。"}
	p := newTestPlanner(t, model, Config{})

	plan, err := p.Plan(context.Background(), "做点什么", "")
	require.Error(t, err)
	assert.True(t, plan.Empty())
}

func TestRoutingTableMatchesCatalogue(t *testing.T) {
	table := RoutingTable()

	assert.Equal(t, "file_manager", table["file_delete"])
	assert.Equal(t, "file_manager", table["list_dir"])
	assert.Equal(t, "browser_executor", table["browser_fill"])
	assert.Equal(t, "browser_executor", table["download_file"])
	assert.Equal(t, "system_tools", table["open_app"])
	assert.Equal(t, "system_tools", table["execute_python_script"])
	assert.Equal(t, "system_tools", table["workflow_run"])
	assert.Equal(t, "system_tools", table["reminder_add"])
	assert.Equal(t, "email_executor", table["send_email"])
	assert.Equal(t, "email_executor", table["compress_files"])

	assert.GreaterOrEqual(t, len(table), 60)
}

func TestRenderCatalogueListsEveryType(t *testing.T) {
	rendered := RenderCatalogue()
	for _, fam := range Catalogue() {
		assert.Contains(t, rendered, fam.Name)
		for _, s := range fam.Steps {
			assert.Contains(t, rendered, s.Type)
		}
	}
}
