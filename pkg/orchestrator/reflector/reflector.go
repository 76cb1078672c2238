// Package reflector analyzes failed steps and proposes repaired
// replacements. Browser failures get the latest error screenshot attached
// when the model can see; configuration failures are classified as
// non-retryable without consulting the model at all.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	analysisTimeout   = 60 * time.Second
	maxAnalysisTokens = 2000
)

// Verdict is the reflector's answer for one failed step.
type Verdict struct {
	// Retryable reports whether the executor should try the step again.
	Retryable bool `json:"is_retryable"`
	// Reason explains the decision in one or two sentences.
	Reason string `json:"reason"`
	// ModifiedStep replaces the failed step on retry when non-nil.
	ModifiedStep *types.Step `json:"modified_step,omitempty"`
}

// Config tunes one reflector instance.
type Config struct {
	// SandboxPath locates the downloads directory searched for error
	// screenshots.
	SandboxPath string
	// VisionCapable enables screenshot attachments. Leave false for
	// text-only models.
	VisionCapable bool
	// Disabled turns reflection off entirely; every failure becomes
	// non-retryable.
	Disabled bool
}

// Reflector runs failure analysis against one model.
type Reflector struct {
	model llmtypes.Model
	cfg   Config
	log   logger.Logger
}

// New creates a reflector bound to the given model.
func New(model llmtypes.Model, cfg Config, log logger.Logger) *Reflector {
	return &Reflector{model: model, cfg: cfg, log: log}
}

// browserErrorMarkers identify failures where the page state matters and a
// screenshot is worth attaching.
var browserErrorMarkers = []string{
	"element not found",
	"selector",
	"timeout waiting",
	"navigation failed",
	"click failed",
	"fill failed",
	"page crashed",
	"net::err",
	"browser",
	"未找到元素",
	"页面加载失败",
}

// configErrorMarkers identify failures no retry can fix: the environment
// is missing something only the user can supply.
var configErrorMarkers = []string{
	"api key",
	"api_key",
	"not configured",
	"missing dependency",
	"no module named",
	"command not found",
	"vision not supported",
	"does not support vision",
	"未配置",
	"缺少依赖",
}

// AnalyzeFailure inspects a failed step and decides whether and how to
// retry it. The returned verdict is always usable; analysis errors
// degrade to a non-retryable verdict.
func (r *Reflector) AnalyzeFailure(ctx context.Context, step types.Step, result types.StepResult, plan types.Plan, instruction string) Verdict {
	if r.cfg.Disabled || r.model == nil {
		return Verdict{Retryable: false, Reason: "reflection disabled"}
	}

	failure := result.Error
	if failure == "" {
		failure = result.Message
	}

	if result.IsConfigError || matchesAny(failure, configErrorMarkers) {
		return Verdict{Retryable: false, Reason: "configuration problem, user action required: " + failure}
	}

	messages := r.buildMessages(step, result, plan, instruction, failure)

	callCtx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.model.GenerateContent(callCtx, messages,
		llmtypes.WithJSONMode(),
		llmtypes.WithMaxTokens(maxAnalysisTokens),
	)
	if err != nil {
		r.log.Warnf("Reflection call failed: %v", err)
		return Verdict{Retryable: false, Reason: "reflection unavailable: " + err.Error()}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return Verdict{Retryable: false, Reason: "reflection returned no content"}
	}

	verdict, err := parseVerdict(resp.Choices[0].Content)
	if err != nil {
		r.log.Warnf("Reflection verdict unparsable: %v", err)
		return Verdict{Retryable: false, Reason: "reflection verdict unparsable"}
	}
	r.log.Infof("Reflection for step type %s finished in %s, retryable=%v",
		step.Type, time.Since(start).Round(time.Millisecond), verdict.Retryable)

	return vetVerdict(verdict)
}

// vetVerdict rejects modified steps whose params still carry template
// markers the model failed to fill in. Retrying those loops forever.
func vetVerdict(v Verdict) Verdict {
	if v.ModifiedStep == nil {
		return v
	}
	for _, value := range v.ModifiedStep.Params {
		s, ok := value.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		bracketed := strings.HasPrefix(strings.TrimSpace(s), "[") && strings.Contains(s, "]")
		if bracketed || strings.Contains(lower, "todo") || strings.Contains(lower, "placeholder") {
			return Verdict{Retryable: false, Reason: "cannot extract from context"}
		}
	}
	return v
}

func (r *Reflector) buildMessages(step types.Step, result types.StepResult, plan types.Plan, instruction string, failure string) []llmtypes.MessageContent {
	user := r.buildUserPrompt(step, result, plan, instruction, failure)
	parts := []llmtypes.ContentPart{llmtypes.TextContent{Text: user}}

	if r.cfg.VisionCapable && matchesAny(failure, browserErrorMarkers) {
		shot, err := latestErrorScreenshot(r.cfg.SandboxPath, r.log)
		if err != nil {
			r.log.Debugf("No error screenshot attached: %v", err)
		} else {
			parts = append(parts, llmtypes.BinaryPart("image/png", shot))
		}
	}

	return []llmtypes.MessageContent{
		llmtypes.TextPart(llmtypes.ChatMessageTypeSystem, reflectionSystemPrompt),
		{Role: llmtypes.ChatMessageTypeHuman, Parts: parts},
	}
}

func (r *Reflector) buildUserPrompt(step types.Step, result types.StepResult, plan types.Plan, instruction string, failure string) string {
	stepJSON, _ := json.Marshal(step)
	var b strings.Builder
	fmt.Fprintf(&b, "User instruction: %s\n\n", instruction)
	fmt.Fprintf(&b, "Failed step: %s\n", stepJSON)
	fmt.Fprintf(&b, "Failure: %s\n\n", failure)

	if len(plan.Steps) > 1 {
		b.WriteString("Full plan for context:\n")
		for i, s := range plan.Steps {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, s.Type, s.Description)
		}
		b.WriteByte('\n')
	}

	b.WriteString("Decide whether a retry can succeed and, if the step needs changes, return the corrected step.")
	return b.String()
}

const reflectionSystemPrompt = `You are a desktop automation failure analyst. A plan step failed; decide whether retrying can succeed.

Return ONLY a JSON object:
{"is_retryable": true|false, "reason": "...", "modified_step": {"type": "...", "description": "...", "params": {...}} }

Omit "modified_step" when the step should be retried unchanged. Set is_retryable to false when the failure is permanent (missing file, missing configuration, impossible request).

When a screenshot is attached, coordinates you emit must be CSS pixels. On Retina displays the screenshot has twice the CSS resolution: halve any pixel position you read off the image before emitting it.

Rules for modified_step params:
- Use only concrete values visible in the failure, the plan or the screenshot.
- Never emit bracketed templates like [SELECTOR], TODO markers or the word "placeholder". If you cannot determine a concrete value, set is_retryable to false instead.`

// parseVerdict decodes the model's reply, falling back to the first
// balanced JSON object when prose surrounds it.
func parseVerdict(content string) (Verdict, error) {
	trimmed := strings.TrimSpace(content)

	var v Verdict
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v, nil
	}
	if candidate := extractBalancedObject(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, nil
		}
	}
	return Verdict{}, fmt.Errorf("no parsable verdict in reply (%d chars)", len(content))
}

func extractBalancedObject(content string) string {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}

func matchesAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
