package step

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danshapiro/runnerloop/internal/runner/agentio"
	"github.com/danshapiro/runnerloop/internal/runner/bootstrap"
	"github.com/danshapiro/runnerloop/internal/runner/rerr"
	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/testutil"
	"github.com/danshapiro/runnerloop/internal/runner/tree"
	"github.com/danshapiro/runnerloop/internal/runner/update"
	"github.com/danshapiro/runnerloop/internal/runner/vcs"
)

// fakeLauncher always invokes the same scripted agent binary regardless of
// variant; individual tests steer its behavior through environment
// variables read by the script itself (see testutil.WriteFakeAgent).
type fakeLauncher struct {
	scriptPath string
}

func (l fakeLauncher) Argv(variant agentio.Variant, schemaPath, outputPath string) []string {
	return []string{l.scriptPath, "--schema", schemaPath, "--output", outputPath}
}

func setupWorkspace(t *testing.T) (root string, p store.Paths, schemas Schemas) {
	t.Helper()
	root = testutil.InitGitRepo(t)
	if _, err := bootstrap.Start(root); err != nil {
		t.Fatalf("bootstrap.Start: %v", err)
	}
	p = store.NewPaths(root)

	treeJSON, err := os.ReadFile(p.SchemaPath)
	if err != nil {
		t.Fatalf("read tree schema: %v", err)
	}
	treeSchema, err := store.CompileTreeSchema(string(treeJSON))
	if err != nil {
		t.Fatalf("compile tree schema: %v", err)
	}
	execJSON, err := os.ReadFile(p.ExecutorSchemaPath)
	if err != nil {
		t.Fatalf("read executor schema: %v", err)
	}
	execSchema, err := agentio.CompileOutputSchema(p.ExecutorSchemaPath, string(execJSON))
	if err != nil {
		t.Fatalf("compile executor schema: %v", err)
	}
	decJSON, err := os.ReadFile(p.DecomposerSchemaPath)
	if err != nil {
		t.Fatalf("read decomposer schema: %v", err)
	}
	decSchema, err := agentio.CompileOutputSchema(p.DecomposerSchemaPath, string(decJSON))
	if err != nil {
		t.Fatalf("compile decomposer schema: %v", err)
	}
	schemas = Schemas{Tree: treeSchema, Executor: execSchema, Decomposer: decSchema}
	return root, p, schemas
}

func writeJSONFixture(t *testing.T, dir, name string, v any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func setGuardCommand(t *testing.T, p store.Paths, command []string) {
	t.Helper()
	cfg, err := store.LoadConfig(p.ConfigPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Guard.Command = command
	if err := store.WriteConfig(p.ConfigPath, cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
}

func TestStep_ExecutorDoneWithPassingGuard(t *testing.T) {
	root, p, schemas := setupWorkspace(t)
	setGuardCommand(t, p, []string{"true"})

	execTree := tree.Default()
	execTree.Next = tree.NextExecute
	if err := store.WriteTree(p.TreePath, execTree); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "route root to executor")

	fixtureDir := t.TempDir()
	outputFixture := writeJSONFixture(t, fixtureDir, "out.json", store.AgentOutput{
		Status: update.StatusDone, Summary: "executed the goal",
	})
	script := testutil.WriteFakeAgent(t, fixtureDir, "agent.sh")
	t.Setenv("FAKE_AGENT_SOURCE", outputFixture)

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{script}}
	res, err := Step(context.Background(), deps, Options{})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Status != update.StatusDone {
		t.Errorf("Status = %s, want done", res.Status)
	}
	if res.Guard != update.GuardPass {
		t.Errorf("Guard = %s, want pass", res.Guard)
	}
	if res.CommitSHA == "" {
		t.Error("expected a non-empty commit sha")
	}

	after, err := store.LoadTree(p.TreePath, schemas.Tree)
	if err != nil {
		t.Fatalf("LoadTree after step: %v", err)
	}
	if !after.Passes {
		t.Error("expected root.Passes = true after done+pass")
	}
}

func TestStep_ExecutorRetryIncrementsAttempts(t *testing.T) {
	root, p, schemas := setupWorkspace(t)

	execTree := tree.Default()
	execTree.Next = tree.NextExecute
	if err := store.WriteTree(p.TreePath, execTree); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "route root to executor")

	fixtureDir := t.TempDir()
	outputFixture := writeJSONFixture(t, fixtureDir, "out.json", store.AgentOutput{
		Status: update.StatusRetry, Summary: "not done yet, try again",
	})
	script := testutil.WriteFakeAgent(t, fixtureDir, "agent.sh")
	t.Setenv("FAKE_AGENT_SOURCE", outputFixture)

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{script}}
	res, err := Step(context.Background(), deps, Options{})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Status != update.StatusRetry {
		t.Errorf("Status = %s, want retry", res.Status)
	}
	if res.Guard != update.GuardSkipped {
		t.Errorf("Guard = %s, want skipped (guard never runs on retry)", res.Guard)
	}

	after, err := store.LoadTree(p.TreePath, schemas.Tree)
	if err != nil {
		t.Fatalf("LoadTree after step: %v", err)
	}
	if after.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", after.Attempts)
	}
	if after.Passes {
		t.Error("expected root.Passes = false after a retry")
	}

	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if rs.LastSummary == nil || *rs.LastSummary != "not done yet, try again" {
		t.Errorf("LastSummary = %v, want the agent's retry summary to survive", rs.LastSummary)
	}
}

func TestStep_DecomposerAddsChildrenAndRunsNoGuard(t *testing.T) {
	root, p, schemas := setupWorkspace(t)

	decompTree := tree.Default() // Next defaults to NextDecompose
	if err := store.WriteTree(p.TreePath, decompTree); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "keep root as decompose")

	after := tree.Default()
	after.Children = []*tree.Node{
		{ID: "child-a", Order: 0, Title: "a", Goal: "do a", Acceptance: []string{"a ok"}, Next: tree.NextExecute, MaxAttempts: 3},
		{ID: "child-b", Order: 1, Title: "b", Goal: "do b", Acceptance: []string{"b ok"}, Next: tree.NextExecute, MaxAttempts: 3},
	}

	fixtureDir := t.TempDir()
	outputFixture := writeJSONFixture(t, fixtureDir, "out.json", agentio.DecomposerOutput{
		Summary: "split into two",
		Children: []agentio.DecomposerChildSpec{
			{Title: "a", Goal: "do a", Acceptance: []string{"a ok"}, Next: "execute"},
			{Title: "b", Goal: "do b", Acceptance: []string{"b ok"}, Next: "execute"},
		},
	})
	treeFixturePath := filepath.Join(fixtureDir, "tree_after.json")
	if err := store.WriteTree(treeFixturePath, after); err != nil {
		t.Fatal(err)
	}
	script := testutil.WriteFakeAgent(t, fixtureDir, "agent.sh")
	t.Setenv("FAKE_AGENT_SOURCE", outputFixture)
	t.Setenv("FAKE_AGENT_TREE_SOURCE", treeFixturePath)

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{script}}
	res, err := Step(context.Background(), deps, Options{})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Status != update.StatusDecomposed {
		t.Errorf("Status = %s, want decomposed", res.Status)
	}
	if res.Guard != update.GuardSkipped {
		t.Errorf("Guard = %s, want skipped", res.Guard)
	}

	gotTree, err := store.LoadTree(p.TreePath, schemas.Tree)
	if err != nil {
		t.Fatalf("LoadTree after step: %v", err)
	}
	if len(gotTree.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(gotTree.Children))
	}
}

func TestStep_ReturnsErrAlreadyCompleteWithoutInvokingAgent(t *testing.T) {
	root, p, schemas := setupWorkspace(t)

	done := tree.Default()
	done.Passes = true
	if err := store.WriteTree(p.TreePath, done); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "mark complete")

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{"/nonexistent/should-never-run"}}
	_, err := Step(context.Background(), deps, Options{})
	var complete *rerr.ErrAlreadyComplete
	if !errors.As(err, &complete) {
		t.Fatalf("Step error = %v, want *rerr.ErrAlreadyComplete", err)
	}
}

func TestStep_ReturnsErrStuckLeafWithoutInvokingAgent(t *testing.T) {
	root, p, schemas := setupWorkspace(t)

	stuck := tree.Default()
	stuck.MaxAttempts = 1
	stuck.Attempts = 1
	if err := store.WriteTree(p.TreePath, stuck); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "mark stuck")

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{"/nonexistent/should-never-run"}}
	_, err := Step(context.Background(), deps, Options{})
	var stuckErr *rerr.ErrStuckLeaf
	if !errors.As(err, &stuckErr) {
		t.Fatalf("Step error = %v, want *rerr.ErrStuckLeaf", err)
	}
}

func TestStep_AgentCrashBecomesSyntheticRetryNotCorruption(t *testing.T) {
	root, p, schemas := setupWorkspace(t)

	execTree := tree.Default()
	execTree.Next = tree.NextExecute
	if err := store.WriteTree(p.TreePath, execTree); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "route root to executor")

	fixtureDir := t.TempDir()
	script := testutil.WriteFakeAgent(t, fixtureDir, "agent.sh")
	t.Setenv("FAKE_AGENT_SOURCE", filepath.Join(fixtureDir, "nonexistent.json"))
	t.Setenv("FAKE_AGENT_EXIT_NONZERO", "1")

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{script}}
	res, err := Step(context.Background(), deps, Options{})
	if err != nil {
		t.Fatalf("Step: %v (a runner-side agent failure must still complete the step as a retry)", err)
	}
	if res.Status != update.StatusRetry {
		t.Errorf("Status = %s, want retry", res.Status)
	}

	after, err := store.LoadTree(p.TreePath, schemas.Tree)
	if err != nil {
		t.Fatalf("LoadTree after step: %v", err)
	}
	if after.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (failed invocation still counts as an attempt)", after.Attempts)
	}

	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if rs.LastSummary != nil {
		t.Errorf("LastSummary = %q, want nil: a runner-internal failure must never surface as agent-facing history", *rs.LastSummary)
	}
}

func TestStep_RefusesOnDirtyWorktree(t *testing.T) {
	root, _, schemas := setupWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "untracked.txt"), []byte("oops"), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := Deps{Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{"/nonexistent/should-never-run"}}
	_, err := Step(context.Background(), deps, Options{})
	var setup *rerr.ErrSetup
	if !errors.As(err, &setup) {
		t.Fatalf("Step error = %v, want *rerr.ErrSetup for dirty worktree", err)
	}
}

func TestStep_DeadlineDerivedFromInjectableNow(t *testing.T) {
	root, p, schemas := setupWorkspace(t)
	setGuardCommand(t, p, []string{"true"})

	execTree := tree.Default()
	execTree.Next = tree.NextExecute
	if err := store.WriteTree(p.TreePath, execTree); err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	testutil.CommitAll(t, root, "route root to executor")

	fixtureDir := t.TempDir()
	outputFixture := writeJSONFixture(t, fixtureDir, "out.json", store.AgentOutput{
		Status: update.StatusDone, Summary: "executed",
	})
	script := testutil.WriteFakeAgent(t, fixtureDir, "agent.sh")
	t.Setenv("FAKE_AGENT_SOURCE", outputFixture)

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps := Deps{
		Root: root, Git: vcs.New(root), Schemas: schemas, Launcher: fakeLauncher{script},
		Now: func() time.Time { return fixedNow },
	}
	if _, err := Step(context.Background(), deps, Options{}); err != nil {
		t.Fatalf("Step: %v", err)
	}
}
