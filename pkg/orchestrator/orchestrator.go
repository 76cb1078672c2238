// Package orchestrator turns one user instruction into a finished task:
// intent fast path, workflow template expansion, or memory-conditioned
// planning followed by step-by-step execution.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/intent"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/memory"
	"deskjarvis/agent/pkg/orchestrator/planner"
	"deskjarvis/agent/pkg/orchestrator/types"
	"deskjarvis/agent/pkg/workflow"
)

const (
	// embedReadyWait bounds how long a task waits for the embedding model
	// before skipping the fast path.
	embedReadyWait = 3 * time.Second

	// memoryContextTokens caps the memory block handed to the planner.
	memoryContextTokens = 1500

	// workflowDepthKey guards against templates that trigger themselves.
	workflowDepthKey = "_workflow_depth"
	maxWorkflowDepth = 1
)

// fastPathIntents are the classifications simple enough to execute as a
// synthesized one-step plan, skipping the planning call.
var fastPathIntents = map[string]bool{
	"screenshot":         true,
	"volume_control":     true,
	"brightness_control": true,
	"system_info":        true,
	"app_open":           true,
	"app_close":          true,
	"translate":          true,
	"summarize":          true,
	"polish":             true,
}

// EmbedWaiter is the slice of the embedding service the orchestrator
// needs before trusting intent detection.
type EmbedWaiter interface {
	WaitUntilReady(timeout time.Duration) bool
}

// Orchestrator drives one task over the shared components. Create one
// per execute command; the components themselves are long-lived.
type Orchestrator struct {
	router    *intent.Router
	planner   *planner.Planner
	executor  *PlanExecutor
	memory    *memory.Manager
	workflows *workflow.Store
	embedding EmbedWaiter
	emitter   events.Emitter
	log       logger.Logger
}

// NewOrchestrator wires a per-task orchestrator. router, memory,
// workflows and embedding may be nil; the corresponding stage is skipped.
func NewOrchestrator(router *intent.Router, pl *planner.Planner, ex *PlanExecutor, mem *memory.Manager, workflows *workflow.Store, embedding EmbedWaiter, emitter events.Emitter, log logger.Logger) *Orchestrator {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Orchestrator{
		router:    router,
		planner:   pl,
		executor:  ex,
		memory:    mem,
		workflows: workflows,
		embedding: embedding,
		emitter:   emitter,
		log:       log,
	}
}

// Run executes one instruction end to end and returns the terminal
// result. It never returns an error; failures are results.
func (o *Orchestrator) Run(ctx context.Context, instruction string, ec *types.ExecutionContext) types.TaskResult {
	instruction = strings.TrimSpace(instruction)

	if plan, ok := o.tryFastPath(ctx, instruction); ok {
		return o.executor.ExecutePlan(ctx, plan, instruction, ec)
	}

	if result, ok := o.tryWorkflow(ctx, instruction, ec); ok {
		return result
	}

	return o.planAndExecute(ctx, instruction, ec)
}

// tryFastPath asks the intent router for a shortcut. Anything uncertain
// falls through to planning; the fast path must never make a task worse.
func (o *Orchestrator) tryFastPath(ctx context.Context, instruction string) (types.Plan, bool) {
	if o.router == nil {
		return types.Plan{}, false
	}
	if o.embedding != nil && !o.embedding.WaitUntilReady(embedReadyWait) {
		o.log.Debugf("Embedding model not ready, skipping fast path")
		return types.Plan{}, false
	}

	match := o.router.Detect(ctx, instruction)
	if match == nil || !fastPathIntents[match.IntentType] {
		return types.Plan{}, false
	}
	o.log.Infof("Fast path matched intent %s (confidence %.2f)", match.IntentType, match.Confidence)

	// Params carry only what the intent's executor consumes; parameterless
	// intents like screenshot ship an empty map.
	step := types.Step{
		Type:        match.Metadata.Type,
		Action:      match.Metadata.Action,
		Description: fmt.Sprintf("快路径执行: %s", match.IntentType),
		Params:      map[string]interface{}{},
	}

	switch match.Metadata.Type {
	case "text_process":
		step.Params["text"] = instruction
		step.Params["target_lang"] = "English"
	case "system_control":
		step.Params["action"] = match.Metadata.Action
		step.Params["instruction"] = instruction
	}

	if match.IntentType == "app_open" || match.IntentType == "app_close" {
		appName := extractAppName(instruction)
		if appName == "" {
			o.log.Warnf("Could not extract app name from instruction, falling back to planning")
			return types.Plan{}, false
		}
		step.Params["app_name"] = appName
		if match.IntentType == "app_open" {
			step.Type = "open_app"
		} else {
			step.Type = "close_app"
		}
	}

	o.emit(events.Thinking, map[string]interface{}{
		"content": fmt.Sprintf("快路径: %s", match.IntentType),
		"phase":   "fast_path",
	})
	return types.Plan{Steps: []types.Step{step}}, true
}

// tryWorkflow expands a matched template into sequential sub-tasks. A
// nesting guard stops templates whose commands match templates again.
func (o *Orchestrator) tryWorkflow(ctx context.Context, instruction string, ec *types.ExecutionContext) (types.TaskResult, bool) {
	if o.workflows == nil {
		return types.TaskResult{}, false
	}
	depth := 0
	if v, ok := ec.Get(workflowDepthKey); ok {
		depth, _ = v.(int)
	}
	if depth >= maxWorkflowDepth {
		return types.TaskResult{}, false
	}

	tpl, ok := o.workflows.Match(instruction)
	if !ok {
		return types.TaskResult{}, false
	}
	o.log.Infof("Workflow template %q matched, running %d command(s)", tpl.Name, len(tpl.Commands))

	o.emit(events.Thinking, map[string]interface{}{
		"content": fmt.Sprintf("执行工作流: %s", tpl.Name),
		"phase":   "workflow",
	})

	ec.Set(workflowDepthKey, depth+1)
	defer ec.Set(workflowDepthKey, depth)

	var outcomes []types.StepOutcome
	for _, command := range tpl.Commands {
		sub := o.Run(ctx, command, ec)
		outcomes = append(outcomes, sub.Steps...)
		if !sub.Success {
			return types.TaskResult{
				Success:         false,
				Message:         fmt.Sprintf("workflow %q failed at %q: %s", tpl.Name, command, sub.Message),
				Steps:           outcomes,
				UserInstruction: instruction,
			}, true
		}
	}
	return types.TaskResult{
		Success:         true,
		Message:         fmt.Sprintf("workflow %q finished, %d command(s)", tpl.Name, len(tpl.Commands)),
		Steps:           outcomes,
		UserInstruction: instruction,
	}, true
}

func (o *Orchestrator) planAndExecute(ctx context.Context, instruction string, ec *types.ExecutionContext) types.TaskResult {
	o.emit(events.Thinking, map[string]interface{}{
		"content": "正在规划任务...",
		"phase":   "planning",
	})

	memoryContext := ""
	if o.memory != nil {
		memoryContext = o.memory.ContextFor(ctx, instruction, memoryContextTokens)
	}

	plan, err := o.planner.Plan(ctx, instruction, memoryContext)
	if err != nil {
		return types.TaskResult{
			Success:         false,
			Message:         fmt.Sprintf("planning failed: %v", err),
			UserInstruction: instruction,
		}
	}
	if plan.Empty() {
		return types.TaskResult{
			Success:         false,
			Message:         "no executable plan for this instruction",
			UserInstruction: instruction,
		}
	}

	descriptions := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		descriptions[i] = s.Description
	}
	o.emit(events.PlanReady, map[string]interface{}{
		"total_steps": len(plan.Steps),
		"steps":       descriptions,
	})

	return o.executor.ExecutePlan(ctx, plan, instruction, ec)
}

func (o *Orchestrator) emit(t events.EventType, data map[string]interface{}) {
	o.emitter.Emit(events.New(t, "", data))
}

var (
	appKeywordPattern = regexp.MustCompile(
		`(?i)(?:打开|启动|运行|开启|关闭|退出|结束|停止|open|launch|start|run|close|quit|exit|stop|kill)\s*(.+)`)
	appNameSplitPattern = regexp.MustCompile(`[然后并和,，]`)
)

// extractAppName pulls the application name out of an open/close
// instruction. Compound instructions ("打开微信然后...") keep only the
// first segment; short keyword-free instructions pass through whole.
func extractAppName(instruction string) string {
	instruction = strings.TrimSpace(instruction)

	if m := appKeywordPattern.FindStringSubmatch(instruction); m != nil {
		name := strings.TrimSpace(appNameSplitPattern.Split(m[1], 2)[0])
		if name != "" {
			return name
		}
	}

	if len([]rune(instruction)) < 50 && !strings.ContainsAny(instruction, "然并和再") {
		return instruction
	}
	return ""
}
