package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SensitivePrefix marks a step whose execution requires explicit user
// confirmation before it may run.
const SensitivePrefix = "[SENSITIVE]"

// Executor family names. Executor.Name() returns one of these; the routing
// registry maps step types onto them.
const (
	FamilyFileManager = "file_manager"
	FamilyBrowser     = "browser_executor"
	FamilySystemTools = "system_tools"
	FamilyEmail       = "email_executor"
)

// Step is one unit of work inside a plan.
type Step struct {
	Type        string                 `json:"type" jsonschema:"required,description=Step type understood by an executor family"`
	Action      string                 `json:"action,omitempty" jsonschema:"description=Optional verb refining the step type"`
	Description string                 `json:"description" jsonschema:"description=Human-readable step description"`
	Params      map[string]interface{} `json:"params,omitempty" jsonschema:"description=Step parameters; values may reference earlier results via {{stepN.path}}"`
}

// IsSensitive reports whether the step carries the confirmation marker.
func (s Step) IsSensitive() bool {
	return strings.HasPrefix(s.Description, SensitivePrefix)
}

// ConfirmationKey names the context entry the host sets to approve the
// sensitive step at the given zero-based index.
func ConfirmationKey(stepIndex int) string {
	return fmt.Sprintf("_sensitive_confirmation_%d", stepIndex)
}

// Plan is an ordered list of steps produced by the planner.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Empty reports whether the plan has no steps.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// StepResult is the uniform outcome of one executor dispatch.
type StepResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`

	// Terminal markers. A config error or a pending user action ends the
	// whole plan without retries.
	IsConfigError      bool `json:"is_config_error,omitempty"`
	RequiresUserAction bool `json:"requires_user_action,omitempty"`
}

// Ok builds a successful result.
func Ok(message string) StepResult {
	return StepResult{Success: true, Message: message}
}

// OkData builds a successful result carrying data.
func OkData(message string, data map[string]interface{}) StepResult {
	return StepResult{Success: true, Message: message, Data: data}
}

// Err builds a failed result.
func Err(message string) StepResult {
	return StepResult{Success: false, Message: message, Error: message}
}

// Errf builds a failed result from a format string.
func Errf(format string, args ...interface{}) StepResult {
	return Err(fmt.Sprintf(format, args...))
}

// ConfigErr builds a terminal configuration failure.
func ConfigErr(message string) StepResult {
	return StepResult{Success: false, Message: message, Error: message, IsConfigError: true}
}

// AsMap renders the result as a generic JSON object so placeholder paths
// can walk it field by field.
func (r StepResult) AsMap() map[string]interface{} {
	payload, err := json.Marshal(r)
	if err != nil {
		return map[string]interface{}{"success": r.Success, "message": r.Message}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]interface{}{"success": r.Success, "message": r.Message}
	}
	return out
}

// StepOutcome pairs a step with the result of its final attempt.
type StepOutcome struct {
	Step   Step       `json:"step"`
	Result StepResult `json:"result"`
}

// TaskResult is the terminal answer for one execute command.
type TaskResult struct {
	Success         bool          `json:"success"`
	Message         string        `json:"message"`
	Steps           []StepOutcome `json:"steps"`
	UserInstruction string        `json:"user_instruction"`
}
