// Package executors provides the executor family implementations the
// kernel binds into the routing registry: the native local subset, the
// script pre-flight gate, the MCP tool-server bridge and the explanatory
// fallback for families with no live backend.
package executors

import (
	"context"
	"fmt"
	"strings"

	"deskjarvis/agent/pkg/orchestrator/planner"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// Unsupported answers every step with a failure naming the family and
// the step types it would accept. It is the default binding for families
// whose backend is not configured.
type Unsupported struct {
	family string
}

// NewUnsupported creates the fallback executor for one family.
func NewUnsupported(family string) *Unsupported {
	return &Unsupported{family: family}
}

func (u *Unsupported) Name() string { return u.family }

func (u *Unsupported) ExecuteStep(_ context.Context, step types.Step, _ *types.ExecutionContext) types.StepResult {
	var supported []string
	for _, fam := range planner.Catalogue() {
		if fam.Name != u.family {
			continue
		}
		for _, s := range fam.Steps {
			supported = append(supported, s.Type)
		}
	}
	return types.ConfigErr(fmt.Sprintf(
		"no backend configured for %s; step %q cannot run (supported step types: %s)",
		u.family, step.Type, strings.Join(supported, ", ")))
}
