package agentio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/runnerloop/internal/runner/procrun"
)

// Variant names the three agent flavors the runner invokes.
type Variant string

const (
	VariantTree       Variant = "tree"
	VariantDecomposer Variant = "decomposer"
	VariantExecutor   Variant = "executor"
)

// Request describes one agent subprocess invocation.
type Request struct {
	Variant         Variant
	Argv            []string // e.g. {"agent-tool", "--schema", "<path>", "--output", "<path>"}; schema/output path flags are tool-specific
	Workdir         string
	Prompt          string
	SchemaPath      string
	OutputPath      string
	ExecutorLogPath string
	Timeout         time.Duration
	OutputCap       int64
}

// Invoke launches the agent process, feeds Prompt on stdin, collects stdout
// /stderr into the executor log, and requires the process to have deposited
// OutputPath. CallID is a ulid correlation id recorded alongside the
// iteration's meta for cross-referencing logs when more than one agent
// variant runs within a step.
func Invoke(ctx context.Context, req Request) (callID string, err error) {
	callID = ulid.Make().String()

	if _, statErr := os.Stat(req.SchemaPath); statErr != nil {
		return callID, fmt.Errorf("agent invoke: missing output schema %s: %w", req.SchemaPath, statErr)
	}

	res, err := procrun.Run(ctx, req.Argv, procrun.Options{
		Dir:       req.Workdir,
		Stdin:     []byte(req.Prompt),
		OutputCap: req.OutputCap,
		Timeout:   req.Timeout,
	})
	if err != nil {
		return callID, fmt.Errorf("agent invoke: %w", err)
	}
	if logErr := writeExecutorLog(req.ExecutorLogPath, res.Stdout, res.Stderr); logErr != nil {
		return callID, logErr
	}
	if res.TimedOut {
		return callID, fmt.Errorf("agent invoke: timed out after %s", req.Timeout)
	}
	if res.ExitCode != 0 {
		return callID, fmt.Errorf("agent invoke: exited with status %d", res.ExitCode)
	}
	if req.OutputPath != "" {
		if _, statErr := os.Stat(req.OutputPath); statErr != nil {
			return callID, fmt.Errorf("agent invoke: output file %s missing: %w", req.OutputPath, statErr)
		}
	}
	return callID, nil
}

func writeExecutorLog(path string, stdout, stderr []byte) error {
	if path == "" {
		return nil
	}
	content := "=== stdout ===\n" + string(stdout) + "\n=== stderr ===\n" + string(stderr)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write executor log %s: %w", path, err)
	}
	return nil
}

// LoadValidatedOutput reads path, validates it against schema, and decodes it
// into v. Missing output or a schema failure is a fatal step-level error.
func LoadValidatedOutput(path string, schema *jsonschema.Schema, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("agent output missing at %s: %w", path, err)
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("agent output %s is not valid JSON: %w", path, err)
	}
	if schema != nil {
		if err := schema.Validate(raw); err != nil {
			return fmt.Errorf("agent output %s fails schema: %w", path, err)
		}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("agent output %s: decode: %w", path, err)
	}
	return nil
}

// CompileOutputSchema compiles one of the bundled structured-output schemas.
func CompileOutputSchema(id, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(id, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", id, err)
	}
	s, err := c.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", id, err)
	}
	return s, nil
}

// DecomposerChildSpec is one child the decomposer/tree agent proposes.
type DecomposerChildSpec struct {
	Title      string   `json:"title"`
	Goal       string   `json:"goal"`
	Acceptance []string `json:"acceptance"`
	Next       string   `json:"next"`
}

// DecomposerOutput is the decomposer agent's structured output.
type DecomposerOutput struct {
	Summary  string                `json:"summary"`
	Children []DecomposerChildSpec `json:"children"`
}

// TreeAgentOutput is the tree agent's structured output.
type TreeAgentOutput struct {
	Summary  string                `json:"summary"`
	Decision string                `json:"decision"`
	Children []DecomposerChildSpec `json:"children,omitempty"`
}
