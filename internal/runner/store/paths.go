// Package store implements atomic persistence for the runner workspace:
// tree, config, run-state, goal document, ephemeral context files, and
// durable per-iteration artifacts.
package store

import "path/filepath"

// Paths holds every canonical on-disk location under a project root.
type Paths struct {
	Root                 string
	RunnerDir            string
	StateDir             string
	ContextDir           string
	IterationsDir        string
	GitignorePath        string
	GoalPath             string
	TreePath             string
	SchemaPath           string
	ExecutorSchemaPath   string
	DecomposerSchemaPath string
	TreeAgentSchemaPath  string
	ConfigPath           string
	AssumptionsPath      string
	QuestionsPath        string
	RunStatePath         string
}

// NewPaths resolves every canonical path rooted at root.
func NewPaths(root string) Paths {
	runnerDir := filepath.Join(root, ".runner")
	stateDir := filepath.Join(runnerDir, "state")
	contextDir := filepath.Join(runnerDir, "context")
	iterationsDir := filepath.Join(runnerDir, "iterations")
	return Paths{
		Root:                 root,
		RunnerDir:            runnerDir,
		StateDir:             stateDir,
		ContextDir:           contextDir,
		IterationsDir:        iterationsDir,
		GitignorePath:        filepath.Join(runnerDir, ".gitignore"),
		GoalPath:             filepath.Join(runnerDir, "GOAL.md"),
		TreePath:             filepath.Join(stateDir, "tree.json"),
		SchemaPath:           filepath.Join(stateDir, "schema.json"),
		ExecutorSchemaPath:   filepath.Join(stateDir, "executor_output.schema.json"),
		DecomposerSchemaPath: filepath.Join(stateDir, "decomposer_output.schema.json"),
		TreeAgentSchemaPath:  filepath.Join(stateDir, "tree_agent_output.schema.json"),
		ConfigPath:           filepath.Join(stateDir, "config.toml"),
		AssumptionsPath:      filepath.Join(stateDir, "assumptions.md"),
		QuestionsPath:        filepath.Join(stateDir, "questions.md"),
		RunStatePath:         filepath.Join(stateDir, "run_state.json"),
	}
}
