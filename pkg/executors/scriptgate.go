package executors

import (
	"context"
	"strings"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
	"deskjarvis/agent/pkg/security"
)

// scriptStepTypes are the aliases the planner may emit for a sandboxed
// Python snippet.
var scriptStepTypes = map[string]bool{
	"execute_python_script": true,
	"python_script":         true,
	"python":                true,
	"code_interpreter":      true,
}

// ScriptRunner executes an audited script and reports its outcome.
type ScriptRunner interface {
	RunScript(ctx context.Context, source string) types.StepResult
}

// ScriptGate pre-flights Python script steps: the source must pass the
// tree-sitter audit before the injected runner sees it. Non-script steps
// pass to next.
type ScriptGate struct {
	auditor *security.Auditor
	runner  ScriptRunner
	next    types.Executor
	log     logger.Logger
}

// NewScriptGate creates the gate. runner may be nil when no Python
// runtime is configured; script steps then fail with a config error.
func NewScriptGate(auditor *security.Auditor, runner ScriptRunner, next types.Executor, log logger.Logger) *ScriptGate {
	return &ScriptGate{auditor: auditor, runner: runner, next: next, log: log}
}

func (g *ScriptGate) Name() string { return types.FamilySystemTools }

func (g *ScriptGate) ExecuteStep(ctx context.Context, step types.Step, ec *types.ExecutionContext) types.StepResult {
	if !scriptStepTypes[step.Type] {
		if g.next != nil {
			return g.next.ExecuteStep(ctx, step, ec)
		}
		return types.Errf("step type %q has no script handler", step.Type)
	}

	source := paramString(step.Params, "code")
	if source == "" {
		source = paramString(step.Params, "script")
	}
	if strings.TrimSpace(source) == "" {
		return types.Err("script step carries no code")
	}

	if g.auditor != nil {
		ok, reason := g.auditor.AuditScript(ctx, source)
		if !ok {
			g.log.Warnf("Script rejected by audit: %s", reason)
			return types.Errf("script rejected: %s", reason)
		}
	}

	if g.runner == nil {
		return types.ConfigErr("no Python runtime configured; install one and set executors.system_tools in config.json")
	}
	return g.runner.RunScript(ctx, source)
}
