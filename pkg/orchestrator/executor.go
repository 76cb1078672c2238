package orchestrator

import (
	"context"
	"fmt"
	"time"

	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/reflector"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	maxStepAttempts = 3

	defaultSensitiveTimeout = 30 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
	defaultRetryDelay       = time.Second
)

// FailureAnalyzer decides whether a failed step is worth retrying and may
// propose a repaired replacement.
type FailureAnalyzer interface {
	AnalyzeFailure(ctx context.Context, step types.Step, result types.StepResult, plan types.Plan, instruction string) reflector.Verdict
}

// PlanExecutor runs plans step by step: placeholder substitution,
// sensitive confirmation gating, dispatch through the registry, and
// reflection-driven retries.
type PlanExecutor struct {
	registry *Registry
	analyzer FailureAnalyzer
	emitter  events.Emitter
	log      logger.Logger

	// Tunable for tests; zero values fall back to the defaults.
	sensitiveTimeout time.Duration
	pollInterval     time.Duration
	retryDelay       time.Duration
}

// NewPlanExecutor creates an executor over the given registry. analyzer
// may be nil, which disables retries beyond the unmodified re-attempt.
func NewPlanExecutor(registry *Registry, analyzer FailureAnalyzer, emitter events.Emitter, log logger.Logger) *PlanExecutor {
	if emitter == nil {
		emitter = events.Discard
	}
	return &PlanExecutor{
		registry:         registry,
		analyzer:         analyzer,
		emitter:          emitter,
		log:              log,
		sensitiveTimeout: defaultSensitiveTimeout,
		pollInterval:     defaultPollInterval,
		retryDelay:       defaultRetryDelay,
	}
}

// ExecutePlan runs every step in order. It stops at the first step whose
// final attempt fails, on a terminal config error, or when the task is
// interrupted.
func (e *PlanExecutor) ExecutePlan(ctx context.Context, plan types.Plan, instruction string, ec *types.ExecutionContext) types.TaskResult {
	total := len(plan.Steps)
	outcomes := make([]types.StepOutcome, 0, total)

	e.emit(events.ExecutionStarted, map[string]interface{}{
		"description": instruction,
		"total_steps": total,
	})

	for i := range plan.Steps {
		step := plan.Steps[i]

		if e.interrupted(ctx, ec) {
			return cancelledResult(instruction, outcomes)
		}

		if step.IsSensitive() {
			confirmed, interrupted := e.awaitConfirmation(ctx, step, i, total, ec)
			if interrupted {
				return cancelledResult(instruction, outcomes)
			}
			if !confirmed {
				result := types.Err("user did not confirm")
				ec.SetResult(i, result)
				outcomes = append(outcomes, types.StepOutcome{Step: step, Result: result})
				e.emitStep(events.StepFailed, step, i, total, result.Error)
				return types.TaskResult{
					Success:         false,
					Message:         "user did not confirm",
					Steps:           outcomes,
					UserInstruction: instruction,
				}
			}
		}

		result, interrupted := e.runStep(ctx, plan, step, i, total, instruction, ec)
		if interrupted {
			return cancelledResult(instruction, outcomes)
		}

		ec.SetResult(i, result)
		outcomes = append(outcomes, types.StepOutcome{Step: plan.Steps[i], Result: result})

		if !result.Success {
			e.emitStep(events.StepFailed, step, i, total, result.Error)
			return types.TaskResult{
				Success:         false,
				Message:         fmt.Sprintf("step %d failed: %s", i+1, result.Error),
				Steps:           outcomes,
				UserInstruction: instruction,
			}
		}
		e.emitStep(events.StepCompleted, step, i, total, result.Message)
	}

	message := "done"
	if n := len(outcomes); n > 0 && outcomes[n-1].Result.Message != "" {
		message = outcomes[n-1].Result.Message
	}
	return types.TaskResult{
		Success:         true,
		Message:         message,
		Steps:           outcomes,
		UserInstruction: instruction,
	}
}

// runStep dispatches one step with up to maxStepAttempts tries. The
// returned result is the final attempt's; the bool reports interruption.
func (e *PlanExecutor) runStep(ctx context.Context, plan types.Plan, step types.Step, index int, total int, instruction string, ec *types.ExecutionContext) (types.StepResult, bool) {
	var result types.StepResult

	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		if e.interrupted(ctx, ec) {
			return result, true
		}

		e.emitStep(events.StepStarted, step, index, total, "")

		resolved := step
		resolved.Params = substitutePlaceholders(step.Params, ec, index, e.log)

		if paths := findNullIDs(resolved.Params, ""); len(paths) > 0 {
			phErr := &types.PlaceholderError{Placeholder: paths[0], StepIndex: index}
			result = types.Err(phErr.Error())
			e.log.Warnf("Step %d params carry unresolved placeholders %v, forcing reflection", index+1, paths)
		} else {
			result = e.dispatch(ctx, resolved, ec)
		}

		if e.interrupted(ctx, ec) {
			return result, true
		}
		if result.Success {
			return result, false
		}
		if isTerminalFailure(result) {
			e.log.Infof("Step %d failed terminally, no retry: %s", index+1, result.Error)
			return result, false
		}
		if attempt == maxStepAttempts || e.analyzer == nil {
			return result, false
		}

		verdict := e.analyzer.AnalyzeFailure(ctx, resolved, result, plan, instruction)
		if !verdict.Retryable {
			e.log.Infof("Reflection declined retry for step %d: %s", index+1, verdict.Reason)
			return result, false
		}
		if verdict.ModifiedStep != nil {
			step = *verdict.ModifiedStep
			e.emit(events.ReflectionApplied, map[string]interface{}{
				"content":    fmt.Sprintf("应用修复: %s", verdict.Reason),
				"phase":      "reflection_applied",
				"step_index": index,
				"reason":     verdict.Reason,
			})
			e.log.Infof("Retrying step %d with modified step type %s", index+1, step.Type)
			continue
		}

		e.log.Infof("Retrying step %d unchanged (attempt %d): %s", index+1, attempt+1, verdict.Reason)
		if e.sleepOrStop(ctx, ec, e.retryDelay) {
			return result, true
		}
	}
	return result, false
}

func (e *PlanExecutor) dispatch(ctx context.Context, step types.Step, ec *types.ExecutionContext) types.StepResult {
	ex, repaired, err := e.registry.Resolve(step)
	if err != nil {
		return types.Err(err.Error())
	}
	return ex.ExecuteStep(ctx, repaired, ec)
}

// awaitConfirmation pauses before a sensitive step until the host writes
// the confirmation key, the timeout lapses, or the task is interrupted.
func (e *PlanExecutor) awaitConfirmation(ctx context.Context, step types.Step, index int, total int, ec *types.ExecutionContext) (confirmed bool, interrupted bool) {
	key := types.ConfirmationKey(index)

	e.emit(events.SensitiveOperation, map[string]interface{}{
		"description": step.Description,
		"step_index":  index,
		"total_steps": total,
	})

	deadline := time.Now().Add(e.sensitiveTimeout)
	for time.Now().Before(deadline) {
		if v, ok := ec.Get(key); ok {
			ec.Delete(key)
			b, _ := v.(bool)
			return b, false
		}
		if e.sleepOrStop(ctx, ec, e.pollInterval) {
			return false, true
		}
	}
	e.log.Warnf("Sensitive confirmation timed out for step %d", index+1)
	return false, false
}

// sleepOrStop waits for d, returning true when the task was interrupted
// before the wait finished.
func (e *PlanExecutor) sleepOrStop(ctx context.Context, ec *types.ExecutionContext, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	case <-ec.Stop().Done():
		return true
	}
}

func (e *PlanExecutor) interrupted(ctx context.Context, ec *types.ExecutionContext) bool {
	return ctx.Err() != nil || ec.Interrupted()
}

// isTerminalFailure reports failures retrying cannot fix. The markers may
// sit on the result itself or inside its data payload.
func isTerminalFailure(r types.StepResult) bool {
	if r.IsConfigError || r.RequiresUserAction {
		return true
	}
	if b, ok := r.Data["is_config_error"].(bool); ok && b {
		return true
	}
	if b, ok := r.Data["requires_user_action"].(bool); ok && b {
		return true
	}
	return false
}

func cancelledResult(instruction string, outcomes []types.StepOutcome) types.TaskResult {
	return types.TaskResult{
		Success:         false,
		Message:         "task cancelled",
		Steps:           outcomes,
		UserInstruction: instruction,
	}
}

func (e *PlanExecutor) emit(t events.EventType, data map[string]interface{}) {
	e.emitter.Emit(events.New(t, "", data))
}

func (e *PlanExecutor) emitStep(t events.EventType, step types.Step, index int, total int, message string) {
	data := map[string]interface{}{
		"description": step.Description,
		"step_index":  index,
		"total_steps": total,
	}
	if message != "" {
		data["message"] = message
	}
	e.emit(t, data)
}
