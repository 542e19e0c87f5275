package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/testutil"
	"github.com/danshapiro/runnerloop/internal/runner/vcs"
)

func TestInit_CreatesWorkspaceSkeleton(t *testing.T) {
	root := testutil.InitGitRepo(t)
	if err := Init(root, false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	p := store.NewPaths(root)
	for _, path := range []string{
		p.TreePath, p.SchemaPath, p.ExecutorSchemaPath, p.DecomposerSchemaPath,
		p.TreeAgentSchemaPath, p.ConfigPath, p.RunStatePath, p.GoalPath,
		p.GitignorePath, p.AssumptionsPath, p.QuestionsPath,
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	has, err := store.HasRequiredGitignoreLines(p.GitignorePath)
	if err != nil || !has {
		t.Errorf("gitignore missing required lines: has=%v err=%v", has, err)
	}
}

func TestInit_RefusesToReinitializeWithoutForce(t *testing.T) {
	root := testutil.InitGitRepo(t)
	if err := Init(root, false); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := Init(root, false); err == nil {
		t.Fatal("expected second Init without --force to fail")
	}
	if err := Init(root, true); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestStart_DerivesRunIDAndCreatesBranch(t *testing.T) {
	root := testutil.InitGitRepo(t)

	runID, err := Start(root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runID == "" {
		t.Fatal("Start returned empty run id")
	}

	g := vcs.New(root)
	branch, err := g.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "runner/"+runID {
		t.Errorf("branch = %q, want runner/%s", branch, runID)
	}

	p := store.NewPaths(root)
	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if rs.RunID == nil || *rs.RunID != runID {
		t.Errorf("run_state.run_id = %v, want %s", rs.RunID, runID)
	}

	goalID, ok, err := store.ReadGoalID(p.GoalPath)
	if err != nil || !ok || goalID != runID {
		t.Errorf("goal id = %q ok=%v err=%v, want %s", goalID, ok, err, runID)
	}

	clean, err := g.IsClean()
	if err != nil || !clean {
		t.Errorf("worktree not clean after Start: clean=%v err=%v", clean, err)
	}
}

func TestStart_IsIdempotentOnSameWorkspace(t *testing.T) {
	root := testutil.InitGitRepo(t)

	first, err := Start(root)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := Start(root)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first != second {
		t.Errorf("Start not idempotent: first=%s second=%s", first, second)
	}
}

func TestStart_RefusesWhenNonRunnerFilesDirty(t *testing.T) {
	root := testutil.InitGitRepo(t)
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("uncommitted"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Start(root); err == nil {
		t.Fatal("expected Start to refuse a worktree dirty outside .runner/")
	}
}
