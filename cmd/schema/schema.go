// Package schema emits the JSON Schemas of the wire types the desktop
// host consumes, for frontend type generation.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"deskjarvis/agent/cmd/serve"
	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// SchemaCmd writes the wire schemas to a directory.
var SchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON Schemas for the host wire types",
	RunE:  runSchema,
}

var outputDir string

func init() {
	SchemaCmd.Flags().StringVarP(&outputDir, "output", "o", "schemas", "output directory for schema files")
}

// wireTypes names each schema file and the Go type it reflects.
var wireTypes = map[string]interface{}{
	"step":        &types.Step{},
	"plan":        &types.Plan{},
	"step_result": &types.StepResult{},
	"task_result": &types.TaskResult{},
	"command":     &serve.Command{},
	"event":       &events.Event{},
}

func runSchema(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.RequiredFromJSONSchemaTags = true

	for name, v := range wireTypes {
		schema := r.Reflect(v)
		payload, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s schema: %w", name, err)
		}
		path := filepath.Join(outputDir, name+".schema.json")
		if err := os.WriteFile(path, payload, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}
	return nil
}
