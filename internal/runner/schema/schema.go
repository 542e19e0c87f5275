// Package schema bundles the JSON Schema documents that the runner writes to
// disk so both itself and the agent subprocess can validate against them.
package schema

import _ "embed"

//go:embed tree.schema.json
var TreeSchemaJSON string

//go:embed executor_output.schema.json
var ExecutorOutputSchemaJSON string

//go:embed decomposer_output.schema.json
var DecomposerOutputSchemaJSON string

//go:embed tree_agent_output.schema.json
var TreeAgentOutputSchemaJSON string
