package workflow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
}

func TestDefaultsSeededOnFirstRun(t *testing.T) {
	s, err := NewStore(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	for _, name := range []string{"工作模式", "下班模式", "截图整理", "清理下载"} {
		tpl, ok := s.Get(name)
		require.True(t, ok, "default %q missing", name)
		assert.NotEmpty(t, tpl.Commands)
	}
}

func TestAddDeletePersist(t *testing.T) {
	dir := t.TempDir()
	log := testLogger(t)

	s, err := NewStore(dir, log)
	require.NoError(t, err)
	require.NoError(t, s.Add("晨间流程", []string{"打开日历"}, "每天早上"))

	reloaded, err := NewStore(dir, log)
	require.NoError(t, err)
	tpl, ok := reloaded.Get("晨间流程")
	require.True(t, ok)
	assert.Equal(t, []string{"打开日历"}, tpl.Commands)
	assert.Equal(t, "每天早上", tpl.Description)

	require.NoError(t, reloaded.Delete("晨间流程"))
	_, ok = reloaded.Get("晨间流程")
	assert.False(t, ok)
	assert.Error(t, reloaded.Delete("晨间流程"))
}

func TestAddValidation(t *testing.T) {
	s, err := NewStore(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	assert.Error(t, s.Add("", []string{"x"}, ""))
	assert.Error(t, s.Add("名字", nil, ""))
}

func TestCustomizedDefaultSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	log := testLogger(t)

	s, err := NewStore(dir, log)
	require.NoError(t, err)
	require.NoError(t, s.Add("工作模式", []string{"打开终端"}, "自定义"))

	reloaded, err := NewStore(dir, log)
	require.NoError(t, err)
	tpl, ok := reloaded.Get("工作模式")
	require.True(t, ok)
	assert.Equal(t, []string{"打开终端"}, tpl.Commands, "seeding must not overwrite user edits")
}

func TestMatch(t *testing.T) {
	s, err := NewStore(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	tpl, ok := s.Match("工作模式")
	require.True(t, ok)
	assert.Equal(t, "工作模式", tpl.Name)

	// Instruction containing the template name.
	tpl, ok = s.Match("进入工作模式吧")
	require.True(t, ok)
	assert.Equal(t, "工作模式", tpl.Name)

	_, ok = s.Match("帮我翻译这段文字")
	assert.False(t, ok)

	_, ok = s.Match("   ")
	assert.False(t, ok)
}
