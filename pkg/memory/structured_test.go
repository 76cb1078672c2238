package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/logger"
)

func newTestStore(t *testing.T) *StructuredStore {
	t.Helper()
	dir := t.TempDir()
	log := logger.CreateTestLogger(filepath.Join(dir, "memory.log"), "debug")
	store, err := NewStructuredStore(filepath.Join(dir, "memory.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPreferencesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetPreference(ctx, "download_path", "/Users/me/Downloads", "general", false))

	value, ok := store.GetPreference(ctx, "download_path")
	require.True(t, ok)
	assert.Equal(t, "/Users/me/Downloads", value)

	// Upsert replaces the value in place.
	require.NoError(t, store.SetPreference(ctx, "download_path", "/tmp/dl", "general", true))
	value, ok = store.GetPreference(ctx, "download_path")
	require.True(t, ok)
	assert.Equal(t, "/tmp/dl", value)

	// Non-string values are stored as JSON.
	require.NoError(t, store.SetPreference(ctx, "batch_size", 42, "system", false))
	value, _ = store.GetPreference(ctx, "batch_size")
	assert.Equal(t, "42", value)

	all, err := store.AllPreferences(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	system, err := store.AllPreferences(ctx, "system")
	require.NoError(t, err)
	assert.Len(t, system, 1)

	_, ok = store.GetPreference(ctx, "missing")
	assert.False(t, ok)
}

func TestFileRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddFileRecord(ctx, "/home/u/report.pdf", "", "create", []string{"work"}))
	require.NoError(t, store.AddFileRecord(ctx, "/home/u/song.mp3", "", "access", nil))

	files, err := store.RecentFiles(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, files, 2)

	docs, err := store.RecentFiles(ctx, 10, "document")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "/home/u/report.pdf", docs[0].Path)
	assert.Equal(t, []string{"work"}, docs[0].Tags)

	found, err := store.SearchFiles(ctx, "report", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)

	byTag, err := store.SearchFiles(ctx, "work", 10)
	require.NoError(t, err)
	assert.Len(t, byTag, 1)
}

func TestGuessFileType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a/b/report.PDF", "document"},
		{"x.xlsx", "spreadsheet"},
		{"img.png", "image"},
		{"clip.mov", "video"},
		{"main.go", "other"},
		{"noext", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, guessFileType(tt.path), tt.path)
	}
}

func TestHabitsIncrement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordHabit(ctx, "action", "下载"))
	}
	require.NoError(t, store.RecordHabit(ctx, "action", "整理"))

	habits, err := store.Habits(ctx, "action", 1)
	require.NoError(t, err)
	require.Len(t, habits, 2)
	assert.Equal(t, "下载", habits[0].PatternValue)
	assert.Equal(t, 3, habits[0].Frequency)

	frequent, err := store.Habits(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, frequent, 1)
}

func TestKnowledgeQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddKnowledge(ctx, Knowledge{Subject: "用户", Predicate: "创建", Object: "/tmp/a.txt", Importance: 0.9}))
	require.NoError(t, store.AddKnowledge(ctx, Knowledge{Subject: "用户", Predicate: "访问", Object: "https://example.com", Importance: 0.3}))

	all, err := store.QueryKnowledge(ctx, "用户", "", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by importance.
	assert.Equal(t, "创建", all[0].Predicate)

	visits, err := store.QueryKnowledge(ctx, "", "访问", "", 10)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, 1.0, visits[0].Confidence)
}

func TestInstructionHistoryAndSimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstruction(ctx, "download report 1.pdf", `[{"type":"download_file"}]`, true, 2.5))
	require.NoError(t, store.AddInstruction(ctx, "download report 2.pdf", `[{"type":"download_file"}]`, false, 1.0))
	require.NoError(t, store.AddInstruction(ctx, "play music", "[]", true, 0.5))

	similar, err := store.SimilarInstructions(ctx, "download report 3.pdf", 10)
	require.NoError(t, err)
	require.Len(t, similar, 2)

	recent, err := store.RecentInstructions(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.Equal(t, `[{"type":"download_file"}]`, recent[2].StepsJSON)
}

func TestRecencyOrderStableWithinSameSecond(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// All rows land in the same CURRENT_TIMESTAMP second.
	for i := 0; i < 10; i++ {
		require.NoError(t, store.AddInstruction(ctx, fmt.Sprintf("task %02d", i), "[]", true, 0))
		require.NoError(t, store.AddFileRecord(ctx, fmt.Sprintf("/tmp/f%02d.txt", i), "", "create", nil))
	}

	recent, err := store.RecentInstructions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	for i, rec := range recent {
		assert.Equal(t, fmt.Sprintf("task %02d", 9-i), rec.Instruction)
	}

	files, err := store.RecentFiles(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, files, 10)
	assert.Equal(t, "/tmp/f09.txt", files[0].Path)
	assert.Equal(t, "/tmp/f00.txt", files[9].Path)

	similar, err := store.SimilarInstructions(ctx, "task", 3)
	require.NoError(t, err)
	require.Len(t, similar, 3)
	assert.Equal(t, "task 09", similar[0].Instruction)
}

func TestNormalizeInstruction(t *testing.T) {
	assert.Equal(t, "download report pdf", NormalizeInstruction("Download report_3.pdf"))
	assert.Equal(t, "open users me notes txt", NormalizeInstruction("open /Users/me/notes.txt"))
	assert.Equal(t, "", NormalizeInstruction("12/34-56"))
}

func TestMemoryContextSections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetPreference(ctx, "lang", "zh", "general", true))
	require.NoError(t, store.AddFileRecord(ctx, "/tmp/a.txt", "", "create", nil))
	for i := 0; i < 2; i++ {
		require.NoError(t, store.RecordHabit(ctx, "action", "下载"))
	}
	require.NoError(t, store.SaveSession(ctx, SessionSummary{SessionID: "s1", Summary: "整理了下载目录"}))

	out := store.MemoryContext(ctx, 5)
	assert.Contains(t, out, "**用户偏好**")
	assert.Contains(t, out, "**最近文件**")
	assert.Contains(t, out, "**用户习惯**")
	assert.Contains(t, out, "**最近会话**")
	assert.Contains(t, out, "lang: zh")
}

func TestCleanupKeepsFreshData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddFileRecord(ctx, "/tmp/a.txt", "", "create", nil))
	require.NoError(t, store.AddInstruction(ctx, "hello", "[]", true, 0))
	require.NoError(t, store.CleanupOldData(ctx, 90))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["recent_files"])
	assert.Equal(t, 1, counts["instruction_history"])
}
