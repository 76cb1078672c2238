package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
}

func contextWithResult(index int, data map[string]interface{}) *types.ExecutionContext {
	ec := types.NewExecutionContext()
	ec.SetResult(index, types.OkData("done", data))
	return ec
}

func TestSubstituteSimplePath(t *testing.T) {
	ec := contextWithResult(0, map[string]interface{}{"file_path": "/tmp/report.txt"})
	params := map[string]interface{}{"path": "{{step1.file_path}}"}

	out := substitutePlaceholders(params, ec, 1, testLogger(t))
	assert.Equal(t, "/tmp/report.txt", out["path"])
}

func TestSubstituteIndexedAndNestedPath(t *testing.T) {
	ec := contextWithResult(0, map[string]interface{}{
		"emails": []interface{}{
			map[string]interface{}{"subject": "invoice", "id": float64(42)},
			map[string]interface{}{"subject": "newsletter"},
		},
	})

	out := substitutePlaceholders(map[string]interface{}{
		"subject": "{{step1.emails[0].subject}}",
		"id":      "{{step1.emails[0].id}}",
	}, ec, 1, testLogger(t))

	assert.Equal(t, "invoice", out["subject"])
	assert.Equal(t, "42", out["id"])
}

func TestSubstituteRecursesIntoNestedParams(t *testing.T) {
	ec := contextWithResult(0, map[string]interface{}{"name": "weekly.pdf"})

	out := substitutePlaceholders(map[string]interface{}{
		"options": map[string]interface{}{"filename": "{{step1.name}}"},
		"list":    []interface{}{"{{step1.name}}", "static"},
	}, ec, 1, testLogger(t))

	nested := out["options"].(map[string]interface{})
	assert.Equal(t, "weekly.pdf", nested["filename"])
	list := out["list"].([]interface{})
	assert.Equal(t, "weekly.pdf", list[0])
	assert.Equal(t, "static", list[1])
}

func TestForwardReferenceYieldsNullID(t *testing.T) {
	ec := types.NewExecutionContext()
	out := substitutePlaceholders(map[string]interface{}{
		"path": "{{step2.file_path}}",
	}, ec, 0, testLogger(t))

	assert.Equal(t, NullID, out["path"])
}

func TestMissingPathYieldsNullID(t *testing.T) {
	ec := contextWithResult(0, map[string]interface{}{"other": "x"})
	out := substitutePlaceholders(map[string]interface{}{
		"path": "{{step1.file_path}}",
	}, ec, 1, testLogger(t))

	assert.Equal(t, NullID, out["path"])
}

func TestEnvelopeFieldsAreReachable(t *testing.T) {
	ec := types.NewExecutionContext()
	ec.SetResult(0, types.Ok("created /tmp/a.txt"))

	out := substitutePlaceholders(map[string]interface{}{
		"note": "{{step1.message}}",
	}, ec, 1, testLogger(t))

	assert.Equal(t, "created /tmp/a.txt", out["note"])
}

func TestPlainStringsPassThrough(t *testing.T) {
	ec := types.NewExecutionContext()
	params := map[string]interface{}{"path": "/tmp/x", "count": float64(3)}

	out := substitutePlaceholders(params, ec, 0, testLogger(t))
	assert.Equal(t, "/tmp/x", out["path"])
	assert.Equal(t, float64(3), out["count"])
}

func TestFindNullIDs(t *testing.T) {
	hits := findNullIDs(map[string]interface{}{
		"ok":   "value",
		"bad":  NullID,
		"deep": map[string]interface{}{"inner": NullID},
		"list": []interface{}{"x", NullID},
	}, "")

	assert.Len(t, hits, 3)
	assert.Contains(t, hits, "bad")
	assert.Contains(t, hits, "deep.inner")
	assert.Contains(t, hits, "list[1]")
}
