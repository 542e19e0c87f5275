// Package bootstrap implements Init and Start: workspace scaffolding and
// the run-identity handshake that binds run state, goal document, and the
// runner/<run_id> branch together.
package bootstrap

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/danshapiro/runnerloop/internal/runner/rerr"
	"github.com/danshapiro/runnerloop/internal/runner/schema"
	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/tree"
	"github.com/danshapiro/runnerloop/internal/runner/vcs"
)

const goalTemplate = `---
id: ""
---
# Goal

Describe the top-level goal here. This document's front matter id is stamped
by "runner start" and must match the branch runner/<id> and state/run_state.json.
`

// Init creates the workspace skeleton: directories, default tree, bundled
// schema, default config, placeholder goal and context files, and a
// gitignore listing the ephemeral prefixes. If force is false, it refuses to
// overwrite an already-initialized workspace.
func Init(root string, force bool) error {
	p := store.NewPaths(root)

	if !force {
		if _, err := os.Stat(p.TreePath); err == nil {
			return &rerr.ErrSetup{Detail: fmt.Sprintf("workspace already initialized at %s (use --force to reinitialize)", p.RunnerDir)}
		}
	}

	for _, dir := range []string{p.StateDir, p.ContextDir, p.IterationsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("init: create %s: %w", dir, err)
		}
	}

	if err := store.WriteTree(p.TreePath, tree.Default()); err != nil {
		return fmt.Errorf("init: write default tree: %w", err)
	}
	if err := os.WriteFile(p.SchemaPath, []byte(schema.TreeSchemaJSON), 0o644); err != nil {
		return fmt.Errorf("init: write tree schema: %w", err)
	}
	if err := os.WriteFile(p.ExecutorSchemaPath, []byte(schema.ExecutorOutputSchemaJSON), 0o644); err != nil {
		return fmt.Errorf("init: write executor output schema: %w", err)
	}
	if err := os.WriteFile(p.DecomposerSchemaPath, []byte(schema.DecomposerOutputSchemaJSON), 0o644); err != nil {
		return fmt.Errorf("init: write decomposer output schema: %w", err)
	}
	if err := os.WriteFile(p.TreeAgentSchemaPath, []byte(schema.TreeAgentOutputSchemaJSON), 0o644); err != nil {
		return fmt.Errorf("init: write tree-agent output schema: %w", err)
	}
	if err := store.WriteConfig(p.ConfigPath, store.DefaultConfig()); err != nil {
		return fmt.Errorf("init: write default config: %w", err)
	}
	if err := store.WriteRunState(p.RunStatePath, store.DefaultRunState()); err != nil {
		return fmt.Errorf("init: write default run state: %w", err)
	}
	if _, err := os.Stat(p.GoalPath); err != nil {
		if err := os.WriteFile(p.GoalPath, []byte(goalTemplate), 0o644); err != nil {
			return fmt.Errorf("init: write goal placeholder: %w", err)
		}
	}
	if err := os.WriteFile(p.AssumptionsPath, []byte(""), 0o644); err != nil {
		return fmt.Errorf("init: write assumptions placeholder: %w", err)
	}
	if err := os.WriteFile(p.QuestionsPath, []byte(""), 0o644); err != nil {
		return fmt.Errorf("init: write questions placeholder: %w", err)
	}
	if err := store.EnsureGitignore(p.GitignorePath); err != nil {
		return fmt.Errorf("init: write gitignore: %w", err)
	}
	return nil
}

// Start ensures the workspace skeleton exists, refuses to proceed if any
// file outside .runner/ is dirty, derives or reuses a run id, stamps the
// goal document's front matter, creates/switches to runner/<run_id>, and
// commits a bootstrap revision. Unlike Step, starting from main/master is
// allowed: the run branch is created from wherever the operator stands.
func Start(root string) (runID string, err error) {
	p := store.NewPaths(root)

	if _, statErr := os.Stat(p.TreePath); statErr != nil {
		if initErr := Init(root, false); initErr != nil {
			return "", fmt.Errorf("start: %w", initErr)
		}
	}

	g := vcs.New(root)
	if _, err := g.CurrentBranch(); err != nil {
		return "", &rerr.ErrSetup{Detail: fmt.Sprintf("cannot determine current branch: %v", err)}
	}

	if err := g.EnsureCleanExceptPrefixes([]string{".runner/"}); err != nil {
		return "", &rerr.ErrSetup{Detail: fmt.Sprintf("worktree is dirty outside runner-owned paths: %v", err)}
	}

	runID, err = resolveRunID(p, g)
	if err != nil {
		return "", err
	}
	if err := store.ValidateID(runID); err != nil {
		return "", &rerr.ErrSetup{Detail: err.Error()}
	}

	if err := store.EnsureGoalID(p.GoalPath, runID); err != nil {
		return "", fmt.Errorf("start: stamp goal id: %w", err)
	}

	branchName := "runner/" + runID
	exists, err := g.BranchExists(branchName)
	if err != nil {
		return "", fmt.Errorf("start: check branch existence: %w", err)
	}
	if exists {
		if err := g.CheckoutBranch(branchName); err != nil {
			return "", fmt.Errorf("start: switch to %s: %w", branchName, err)
		}
	} else {
		if err := g.CheckoutNewBranch(branchName); err != nil {
			return "", fmt.Errorf("start: create %s: %w", branchName, err)
		}
	}

	rs, err := loadOrDefaultRunState(p)
	if err != nil {
		return "", err
	}
	rs.RunID = &runID
	if err := store.WriteRunState(p.RunStatePath, rs); err != nil {
		return "", fmt.Errorf("start: write run state: %w", err)
	}

	if err := g.AddAll(); err != nil {
		return "", fmt.Errorf("start: stage: %w", err)
	}
	if _, err := g.CommitStaged(fmt.Sprintf("runner: start run %s", runID)); err != nil {
		return "", fmt.Errorf("start: commit: %w", err)
	}

	return runID, nil
}

func loadOrDefaultRunState(p store.Paths) (*store.RunState, error) {
	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.DefaultRunState(), nil
		}
		return store.DefaultRunState(), nil
	}
	return rs, nil
}

// resolveRunID reuses the run state's existing run id if it is non-empty
// (Start validates it afterwards); otherwise it derives one from a short HEAD revision plus a numeric
// uniqueness suffix against existing runner/<id> branches.
func resolveRunID(p store.Paths, g *vcs.Git) (string, error) {
	if rs, err := store.LoadRunState(p.RunStatePath); err == nil && rs.RunID != nil && *rs.RunID != "" {
		return *rs.RunID, nil
	}

	base, err := g.HeadShortSHA(8)
	if err != nil {
		// A brand-new repository has no commits yet; fall back to a random
		// identifier so Start still succeeds on an empty history.
		base = fmt.Sprintf("run%06d", rand.Intn(1_000_000))
	}

	candidate := base
	for suffix := 2; ; suffix++ {
		exists, err := g.BranchExists("runner/" + candidate)
		if err != nil {
			return "", fmt.Errorf("start: check branch uniqueness: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(suffix)
	}
}
