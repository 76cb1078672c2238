package orchestrator

import (
	"fmt"
	"strings"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/planner"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// Registry maps step types to executor families and families to bound
// executors. The dispatch table comes from the planner catalogue, so any
// step type the model is told about has a route.
type Registry struct {
	families map[string]types.Executor
	table    map[string]string
	log      logger.Logger
}

// NewRegistry creates a registry with no executors bound yet.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		families: make(map[string]types.Executor),
		table:    planner.RoutingTable(),
		log:      log,
	}
}

// Bind attaches an executor to a family name, replacing any previous
// binding.
func (r *Registry) Bind(family string, ex types.Executor) {
	r.families[family] = ex
}

// Executor returns the executor bound to a family.
func (r *Registry) Executor(family string) (types.Executor, bool) {
	ex, ok := r.families[family]
	return ex, ok
}

// Resolve normalizes a step's type and returns the executor that should
// run it, along with the possibly repaired step. Step types the table
// does not know fall through to the system tools family.
func (r *Registry) Resolve(step types.Step) (types.Executor, types.Step, error) {
	step = repairStep(step, r.log)

	family, ok := r.table[step.Type]
	if !ok {
		r.log.Warnf("Unknown step type %q, routing to %s", step.Type, types.FamilySystemTools)
		family = types.FamilySystemTools
	}

	ex, bound := r.families[family]
	if !bound {
		return nil, step, fmt.Errorf("no executor bound for family %s", family)
	}
	return ex, step, nil
}

// repairStep rewrites the malformed step types some models emit, such as
// a family name in place of a concrete step type.
func repairStep(step types.Step, log logger.Logger) types.Step {
	switch step.Type {
	case "file_manager", "FileManager", "file_operation":
		repaired := repairFileStep(step)
		log.Warnf("Repaired step type %q to %q via action %q", step.Type, repaired, step.Action)
		step.Type = repaired
	case "app_control":
		repaired := repairAppStep(step)
		log.Warnf("Repaired step type %q to %q via action %q", step.Type, repaired, step.Action)
		step.Type = repaired
	}
	return step
}

// repairFileStep guesses a concrete filesystem step from the action and
// description. Wording may be English or Chinese. Delete is the default
// because it is the variant models most often leave abstract.
func repairFileStep(step types.Step) string {
	hint := strings.ToLower(step.Action + " " + step.Description)
	switch {
	case containsAny(hint, "read", "读取", "查看"):
		return "file_read"
	case containsAny(hint, "write", "写入", "保存"):
		return "file_write"
	case containsAny(hint, "create", "创建", "新建"):
		return "file_create"
	case containsAny(hint, "organize", "整理", "分类"):
		return "file_organize"
	case containsAny(hint, "delete", "remove", "删除"):
		return "file_delete"
	default:
		return "file_delete"
	}
}

func repairAppStep(step types.Step) string {
	hint := strings.ToLower(step.Action + " " + step.Description)
	if containsAny(hint, "close", "quit", "关闭", "退出") {
		return "close_app"
	}
	return "open_app"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
