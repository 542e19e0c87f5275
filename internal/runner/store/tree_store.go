package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/runnerloop/internal/runner/tree"
)

// LoadTree reads, schema-validates, and invariant-checks the tree at path.
func LoadTree(path string, schema *jsonschema.Schema) (*tree.Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse tree %s: %w", path, err)
	}
	if schema != nil {
		if err := schema.Validate(raw); err != nil {
			return nil, fmt.Errorf("tree %s fails schema: %w", path, err)
		}
	}

	var n tree.Node
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", path, err)
	}

	if errs := tree.ValidateInvariants(&n); len(errs) > 0 {
		return nil, fmt.Errorf("tree %s fails invariants: %s", path, strings.Join(errs, "; "))
	}
	return &n, nil
}

// WriteTree canonicalizes (sorts children, normalizes nil slices to empty
// arrays) and atomically writes the tree as pretty JSON with a trailing
// newline.
func WriteTree(path string, n *tree.Node) error {
	cloned := n.Clone()
	cloned.Canonicalize()
	buf, err := json.MarshalIndent(cloned, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tree: %w", err)
	}
	buf = append(buf, '\n')
	return writeFileAtomic(path, buf, 0o644)
}

// CompileTreeSchema compiles the bundled tree schema document.
func CompileTreeSchema(schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	const resource = "tree.schema.json"
	if err := c.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add tree schema resource: %w", err)
	}
	s, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile tree schema: %w", err)
	}
	return s, nil
}
