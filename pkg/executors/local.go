package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskjarvis/agent/pkg/history"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
	"deskjarvis/agent/pkg/schedule"
	"deskjarvis/agent/pkg/workflow"
)

// nestingGuardKey stops workflow_run steps from re-entering themselves
// through RunInstruction.
const nestingGuardKey = "_local_workflow_run"

// RunInstruction dispatches a command as a fresh instruction through the
// orchestrator. workflow_run uses it to expand template commands.
type RunInstruction func(ctx context.Context, instruction string, ec *types.ExecutionContext) types.TaskResult

// Local handles the system_tools step types the kernel can honour
// natively: reminders, workflows, history and favorites. Every other
// step type passes to next, typically an MCP bridge or Unsupported.
type Local struct {
	scheduler *schedule.Scheduler
	workflows *workflow.Store
	history   *history.Store
	run       RunInstruction
	next      types.Executor
	log       logger.Logger
}

// NewLocal creates the native system_tools executor. Any store may be
// nil; the matching step types then fall through to next.
func NewLocal(scheduler *schedule.Scheduler, workflows *workflow.Store, hist *history.Store, run RunInstruction, next types.Executor, log logger.Logger) *Local {
	return &Local{
		scheduler: scheduler,
		workflows: workflows,
		history:   hist,
		run:       run,
		next:      next,
		log:       log,
	}
}

func (l *Local) Name() string { return types.FamilySystemTools }

func (l *Local) ExecuteStep(ctx context.Context, step types.Step, ec *types.ExecutionContext) types.StepResult {
	switch {
	case strings.HasPrefix(step.Type, "reminder_") && l.scheduler != nil:
		return l.reminderStep(step)
	case strings.HasPrefix(step.Type, "workflow_") && l.workflows != nil:
		return l.workflowStep(ctx, step, ec)
	case strings.HasPrefix(step.Type, "history_") && l.history != nil:
		return l.historyStep(step)
	case strings.HasPrefix(step.Type, "favorite_") && l.history != nil:
		return l.favoriteStep(step)
	}

	if l.next != nil {
		return l.next.ExecuteStep(ctx, step, ec)
	}
	return types.Errf("step type %q has no local handler", step.Type)
}

func (l *Local) reminderStep(step types.Step) types.StepResult {
	switch step.Type {
	case "reminder_add":
		message := paramString(step.Params, "message")
		if message == "" {
			message = paramString(step.Params, "instruction")
		}
		if message == "" {
			return types.Err("reminder needs a message")
		}

		delay := schedule.ParseDelayExpression(paramString(step.Params, "delay"))
		if delay == 0 {
			if seconds := paramInt(step.Params, "delay_seconds"); seconds > 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}
		var triggerTime time.Time
		if raw := paramString(step.Params, "trigger_time"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return types.Errf("unparsable trigger_time %q", raw)
			}
			triggerTime = t
		}

		r, err := l.scheduler.Add(message, delay, triggerTime,
			paramString(step.Params, "repeat"), paramString(step.Params, "command"))
		if err != nil {
			return types.Err(err.Error())
		}
		return types.OkData(
			fmt.Sprintf("已设置提醒，将在 %s 提醒你: %s", r.TriggerTime.Format("01-02 15:04"), message),
			map[string]interface{}{"id": r.ID, "trigger_time": r.TriggerTime.Format(time.RFC3339)},
		)

	case "reminder_cancel":
		id := paramString(step.Params, "id")
		if err := l.scheduler.Cancel(id); err != nil {
			return types.Err(err.Error())
		}
		return types.Ok("已取消提醒")

	case "reminder_list":
		pending := l.scheduler.Pending()
		items := make([]interface{}, 0, len(pending))
		for _, r := range pending {
			items = append(items, map[string]interface{}{
				"id":           r.ID,
				"message":      r.Message,
				"trigger_time": r.TriggerTime.Format("01-02 15:04:05"),
				"repeat":       r.Repeat,
			})
		}
		return types.OkData(
			fmt.Sprintf("你有 %d 个待处理的提醒", len(pending)),
			map[string]interface{}{"reminders": items},
		)
	}
	return types.Errf("unknown reminder step %q", step.Type)
}

func (l *Local) workflowStep(ctx context.Context, step types.Step, ec *types.ExecutionContext) types.StepResult {
	switch step.Type {
	case "workflow_save":
		name := paramString(step.Params, "name")
		commands := paramStrings(step.Params, "commands")
		if err := l.workflows.Add(name, commands, paramString(step.Params, "description")); err != nil {
			return types.Err(err.Error())
		}
		return types.OkData(
			fmt.Sprintf("已创建工作流 '%s'，包含 %d 个命令", name, len(commands)),
			map[string]interface{}{"name": name, "commands": commands},
		)

	case "workflow_delete":
		name := paramString(step.Params, "name")
		if err := l.workflows.Delete(name); err != nil {
			return types.Err(err.Error())
		}
		return types.Ok(fmt.Sprintf("已删除工作流 '%s'", name))

	case "workflow_list":
		templates := l.workflows.List()
		items := make([]interface{}, 0, len(templates))
		for _, t := range templates {
			items = append(items, map[string]interface{}{
				"name":           t.Name,
				"description":    t.Description,
				"commands_count": len(t.Commands),
			})
		}
		return types.OkData(
			fmt.Sprintf("共有 %d 个工作流", len(templates)),
			map[string]interface{}{"workflows": items},
		)

	case "workflow_run":
		return l.runWorkflow(ctx, step, ec)
	}
	return types.Errf("unknown workflow step %q", step.Type)
}

func (l *Local) runWorkflow(ctx context.Context, step types.Step, ec *types.ExecutionContext) types.StepResult {
	if l.run == nil {
		return types.ConfigErr("workflow execution is not wired into this build")
	}
	if ec.Bool(nestingGuardKey) {
		return types.Err("nested workflow_run is not allowed")
	}

	name := paramString(step.Params, "name")
	tpl, ok := l.workflows.Get(name)
	if !ok {
		return types.Errf("workflow %q not found", name)
	}

	ec.Set(nestingGuardKey, true)
	defer ec.Delete(nestingGuardKey)

	for i, command := range tpl.Commands {
		result := l.run(ctx, command, ec)
		if !result.Success {
			return types.Errf("workflow %q stopped at command %d (%s): %s", name, i+1, command, result.Message)
		}
	}
	return types.Ok(fmt.Sprintf("工作流 '%s' 执行完成，共 %d 个命令", name, len(tpl.Commands)))
}

func (l *Local) historyStep(step types.Step) types.StepResult {
	switch step.Type {
	case "history_list":
		tasks := l.history.Recent(paramInt(step.Params, "limit"))
		return types.OkData(
			fmt.Sprintf("最近 %d 条任务记录", len(tasks)),
			map[string]interface{}{"tasks": taskItems(tasks)},
		)

	case "history_search":
		keyword := paramString(step.Params, "keyword")
		tasks := l.history.Search(keyword)
		return types.OkData(
			fmt.Sprintf("找到 %d 条匹配的记录", len(tasks)),
			map[string]interface{}{"tasks": taskItems(tasks)},
		)

	case "history_clear":
		l.history.ClearHistory()
		return types.Ok("已清空历史记录")
	}
	return types.Errf("unknown history step %q", step.Type)
}

func (l *Local) favoriteStep(step types.Step) types.StepResult {
	switch step.Type {
	case "favorite_add":
		fav, err := l.history.AddFavorite(
			paramString(step.Params, "instruction"), paramString(step.Params, "name"))
		if err != nil {
			return types.Err(err.Error())
		}
		return types.OkData(fmt.Sprintf("已收藏: %s", fav.Name), map[string]interface{}{"id": fav.ID})

	case "favorite_remove":
		target := paramString(step.Params, "id")
		if target == "" {
			target = paramString(step.Params, "instruction")
		}
		fav, err := l.history.RemoveFavorite(target)
		if err != nil {
			return types.Err(err.Error())
		}
		return types.Ok(fmt.Sprintf("已移除收藏: %s", fav.Name))

	case "favorite_list":
		favorites := l.history.Favorites()
		items := make([]interface{}, 0, len(favorites))
		for _, f := range favorites {
			items = append(items, map[string]interface{}{
				"id":          f.ID,
				"name":        f.Name,
				"instruction": f.Instruction,
				"created_at":  f.CreatedAt,
			})
		}
		return types.OkData(
			fmt.Sprintf("共有 %d 个收藏", len(favorites)),
			map[string]interface{}{"favorites": items},
		)
	}
	return types.Errf("unknown favorite step %q", step.Type)
}

func taskItems(tasks []history.Task) []interface{} {
	items := make([]interface{}, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, map[string]interface{}{
			"id":          t.ID,
			"instruction": t.Instruction,
			"success":     t.Success,
			"steps_count": t.StepsCount,
			"duration":    t.Duration,
			"timestamp":   t.Timestamp,
		})
	}
	return items
}

func paramString(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func paramInt(params map[string]interface{}, key string) int {
	switch t := params[key].(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

func paramStrings(params map[string]interface{}, key string) []string {
	switch t := params[key].(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		parts := strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == '，' || r == '\n' })
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}
