package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"deskjarvis/agent/pkg/orchestrator/types"
)

// ParsePlan extracts a plan from a model reply. Accepted shapes, in
// order: a strict JSON object or bare step array, the same wrapped in a
// markdown code fence, and JSON embedded in surrounding prose (first
// balanced object, then first balanced array).
func ParsePlan(content string) (types.Plan, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return types.Plan{}, fmt.Errorf("empty planner reply")
	}

	if plan, ok := decodePlan(trimmed); ok {
		return plan, nil
	}

	if stripped := stripCodeFence(trimmed); stripped != trimmed {
		if plan, ok := decodePlan(stripped); ok {
			return plan, nil
		}
		trimmed = stripped
	}

	for _, candidate := range balancedCandidates(trimmed) {
		if candidate == "" {
			continue
		}
		if plan, ok := decodePlan(candidate); ok {
			return plan, nil
		}
	}

	return types.Plan{}, fmt.Errorf("no parsable plan in reply (%d chars)", len(content))
}

// balancedCandidates orders the embedded-JSON candidates by which opens
// first, so a bare array of steps is not mistaken for its first object.
func balancedCandidates(s string) []string {
	obj := extractBalanced(s, '{', '}')
	arr := extractBalanced(s, '[', ']')
	objIdx := strings.IndexByte(s, '{')
	arrIdx := strings.IndexByte(s, '[')
	if arrIdx != -1 && (objIdx == -1 || arrIdx < objIdx) {
		return []string{arr, obj}
	}
	return []string{obj, arr}
}

// decodePlan tries the accepted JSON shapes: {"steps":[...]} envelope,
// bare step array, single step object.
func decodePlan(candidate string) (types.Plan, bool) {
	var resp planResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err == nil && resp.Steps != nil {
		return types.Plan{Steps: normalizeSteps(resp.Steps)}, true
	}

	var steps []types.Step
	if err := json.Unmarshal([]byte(candidate), &steps); err == nil && len(steps) > 0 {
		return types.Plan{Steps: normalizeSteps(steps)}, true
	}

	var step types.Step
	if err := json.Unmarshal([]byte(candidate), &step); err == nil && strings.TrimSpace(step.Type) != "" {
		return types.Plan{Steps: normalizeSteps([]types.Step{step})}, true
	}

	return types.Plan{}, false
}

// normalizeSteps drops entries without a type and trims whitespace the
// model sometimes leaves around type names.
func normalizeSteps(steps []types.Step) []types.Step {
	out := make([]types.Step, 0, len(steps))
	for _, s := range steps {
		s.Type = strings.TrimSpace(s.Type)
		if s.Type == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// stripCodeFence removes a surrounding markdown code fence, skipping the
// language identifier after the opening backticks.
func stripCodeFence(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}
	start := strings.Index(content, "```")
	contentStart := start + 3
	if nl := strings.Index(content[contentStart:], "\n"); nl != -1 {
		contentStart += nl + 1
	}
	end := strings.LastIndex(content, "```")
	if end > contentStart {
		return strings.TrimSpace(content[contentStart:end])
	}
	return content
}

// extractBalanced returns the first balanced open...close region,
// honouring JSON string literals and escapes.
func extractBalanced(content string, open byte, close byte) string {
	start := strings.IndexByte(content, open)
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
		case open:
			if !inString {
				depth++
			}
		case close:
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
