// Command schemagen emits the JSON Schema for the Workflow/Step/
// ToolConfig document shape (spec §10.1 supplements: the text→workflow
// parser is out of scope, but an external parser or editor still needs
// a machine-readable contract to validate authored documents against).
// Mirrors the teacher's cmd/schemagen.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/wovenflow/engine/engine/workflow"
)

func generateSchemas(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
		DoNotReference:             false,
		BaseSchemaID:               "http://json-schema.org/draft-07/schema#",
	}

	schemas := []struct {
		name string
		data any
	}{
		{"workflow", &workflow.Workflow{}},
		{"step", &workflow.Step{}},
		{"tool-config", &workflow.ToolConfig{}},
		{"event-source", &workflow.EventSourceConfig{}},
	}

	for _, s := range schemas {
		schema := reflector.Reflect(s.data)
		schema.Version = "http://json-schema.org/draft-07/schema#"

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema for %s: %w", s.name, err)
		}
		path := filepath.Join(outDir, s.name+".json")
		if err := os.WriteFile(path, out, 0o600); err != nil {
			return fmt.Errorf("failed to write schema to %s: %w", path, err)
		}
		fmt.Printf("generated schema: %s\n", path)
	}
	return nil
}

func main() {
	outDir := "./schemas"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := generateSchemas(outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error generating schemas: %v\n", err)
		os.Exit(1)
	}
}
