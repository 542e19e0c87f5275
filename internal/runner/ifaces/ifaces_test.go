package ifaces

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danshapiro/runnerloop/internal/runner/store"
)

func TestClassifyRun(t *testing.T) {
	cases := []struct {
		exitCode int
		checksOK bool
		want     RunClassification
	}{
		{0, true, ClassificationSuccess},
		{0, false, ClassificationFail},
		{3, true, ClassificationStuck},
		{3, false, ClassificationStuck},
		{1, true, ClassificationError},
		{7, false, ClassificationError},
	}
	for _, c := range cases {
		if got := ClassifyRun(c.exitCode, c.checksOK); got != c.want {
			t.Fatalf("ClassifyRun(%d,%v) = %v, want %v", c.exitCode, c.checksOK, got, c.want)
		}
	}
}

func TestTemplateContentHashIsDeterministicAndDistinguishesInput(t *testing.T) {
	a := TemplateContentHash("hello")
	b := TemplateContentHash("hello")
	if a != b {
		t.Fatalf("expected identical input to hash identically: %q vs %q", a, b)
	}
	if c := TemplateContentHash("different"); c == a {
		t.Fatalf("expected different input to hash differently")
	}
}

func TestLoadSnapshotReportsUnknownWhenRunStateMissing(t *testing.T) {
	dir := t.TempDir()
	snap, err := WorkspaceSnapshotReader{}.LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.State != RunStateUnknown {
		t.Fatalf("State = %v, want unknown", snap.State)
	}
}

func TestLoadSnapshotReportsSuccessWhenRootPasses(t *testing.T) {
	dir := t.TempDir()
	p := store.NewPaths(dir)
	runID := "run-1"
	if err := store.WriteRunState(p.RunStatePath, &store.RunState{RunID: &runID, NextIter: 2}); err != nil {
		t.Fatalf("WriteRunState: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.TreePath), 0o755); err != nil {
		t.Fatal(err)
	}
	treeJSON := `{"id":"root","order":0,"title":"","goal":"","acceptance":[],"next":"execute","passes":true,"attempts":0,"max_attempts":1,"children":[]}`
	if err := os.WriteFile(p.TreePath, []byte(treeJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := WorkspaceSnapshotReader{}.LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.State != RunStateSuccess {
		t.Fatalf("State = %v, want success", snap.State)
	}
	if snap.RunID != "run-1" {
		t.Fatalf("RunID = %q, want run-1", snap.RunID)
	}
}

func TestLoadSnapshotReportsFailWhenLeafStuck(t *testing.T) {
	dir := t.TempDir()
	p := store.NewPaths(dir)
	runID := "run-1"
	if err := store.WriteRunState(p.RunStatePath, &store.RunState{RunID: &runID, NextIter: 2}); err != nil {
		t.Fatalf("WriteRunState: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.TreePath), 0o755); err != nil {
		t.Fatal(err)
	}
	treeJSON := `{"id":"root","order":0,"title":"","goal":"","acceptance":[],"next":"decompose","passes":false,"attempts":0,"max_attempts":1,"children":[{"id":"leaf","order":0,"title":"","goal":"","acceptance":[],"next":"execute","passes":false,"attempts":2,"max_attempts":2,"children":[]}]}`
	if err := os.WriteFile(p.TreePath, []byte(treeJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := WorkspaceSnapshotReader{}.LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.State != RunStateFail {
		t.Fatalf("State = %v, want fail", snap.State)
	}
	if snap.CurrentNodeID != "leaf" {
		t.Fatalf("CurrentNodeID = %q, want leaf", snap.CurrentNodeID)
	}
}
