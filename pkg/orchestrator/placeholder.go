package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// NullID is substituted when a placeholder path walks into a missing or
// null value. Dispatch refuses any params still carrying it.
const NullID = "NULL_ID"

// placeholderPattern matches {{stepN.path}} with a 1-based step number
// and a dotted path, each segment optionally indexed as name[k].
var placeholderPattern = regexp.MustCompile(`\{\{step(\d+)\.([^}]+)\}\}`)

// indexedSegment splits a path segment like emails[1] into name + index.
var indexedSegment = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// substitutePlaceholders resolves every {{stepN.path}} token inside params
// against the results recorded so far. currentIndex is the zero-based
// index of the step about to run; references at or past it are forward
// references and resolve to NULL_ID.
func substitutePlaceholders(params map[string]interface{}, ec *types.ExecutionContext, currentIndex int, log logger.Logger) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	out, _ := replaceValue(params, ec, currentIndex, log).(map[string]interface{})
	if out == nil {
		return params
	}
	return out
}

func replaceValue(value interface{}, ec *types.ExecutionContext, currentIndex int, log logger.Logger) interface{} {
	switch v := value.(type) {
	case string:
		return replaceInString(v, ec, currentIndex, log)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = replaceValue(inner, ec, currentIndex, log)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = replaceValue(inner, ec, currentIndex, log)
		}
		return out
	default:
		return value
	}
}

func replaceInString(s string, ec *types.ExecutionContext, currentIndex int, log logger.Logger) string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	for _, m := range matches {
		token, numStr, path := m[0], m[1], m[2]
		stepNum, err := strconv.Atoi(numStr)

		var resolved interface{}
		if err != nil || stepNum < 1 || stepNum > currentIndex {
			log.Warnf("Placeholder {{step%s.%s}} references a step with no result yet, substituting %s", numStr, path, NullID)
		} else if result, ok := ec.Result(stepNum - 1); ok {
			resolved = walkPath(result.Data, path)
			if resolved == nil {
				// Paths may also address the result envelope itself,
				// e.g. {{step1.message}} or {{step1.data.path}}.
				resolved = walkPath(result.AsMap(), path)
			}
			if resolved == nil {
				log.Warnf("Placeholder {{step%d.%s}} resolved to nothing, substituting %s", stepNum, path, NullID)
			}
		} else {
			log.Warnf("Placeholder {{step%d.%s}} references a missing result, substituting %s", stepNum, path, NullID)
		}

		s = strings.ReplaceAll(s, token, stringify(resolved))
	}
	return s
}

// walkPath follows a dotted path through nested maps and lists. Any miss
// along the way yields nil.
func walkPath(data interface{}, path string) interface{} {
	current := data
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}
		if m := indexedSegment.FindStringSubmatch(part); m != nil {
			name := m[1]
			idx, _ := strconv.Atoi(m[2])
			current = child(current, name)
			list, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(list) {
				return nil
			}
			current = list[idx]
			continue
		}
		current = child(current, part)
	}
	return current
}

// child reads one path segment: a map key, or a numeric index when the
// current node is a list.
func child(current interface{}, segment string) interface{} {
	switch node := current.(type) {
	case map[string]interface{}:
		return node[segment]
	case []interface{}:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil
		}
		return node[idx]
	default:
		return nil
	}
}

// stringify renders a resolved value for in-place substitution. A nil
// value becomes the NULL_ID sentinel.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return NullID
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(payload)
	}
}

// findNullIDs collects the param paths still carrying the sentinel after
// substitution. Any hit aborts dispatch with a PlaceholderError.
func findNullIDs(v interface{}, path string) []string {
	var hits []string
	switch node := v.(type) {
	case string:
		if node == NullID {
			if path == "" {
				path = "root"
			}
			hits = append(hits, path)
		}
	case map[string]interface{}:
		for k, inner := range node {
			p := k
			if path != "" {
				p = path + "." + k
			}
			hits = append(hits, findNullIDs(inner, p)...)
		}
	case []interface{}:
		for i, inner := range node {
			hits = append(hits, findNullIDs(inner, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return hits
}
