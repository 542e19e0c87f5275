// Package ifaces types the three external collaborators this core is
// deliberately not implementing: the evaluation harness, the monitoring
// server, and the prompt-variant lab. They appear as pure Go interfaces
// plus the on-disk result shapes they are expected to consume. No concrete
// harness/server/lab ships here; the only concrete pieces are
// WorkspaceSnapshotReader, a file-based RunSnapshotReader, and the
// TemplateContentHash helper.
package ifaces

import (
	"context"
	"encoding/hex"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"github.com/danshapiro/runnerloop/internal/runner/selector"
	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/update"
)

// RunClassification is the evaluation harness's verdict for one run:
// success (agent loop exit 0 and all post-run checks passed), fail (exit 0
// but checks failed), stuck (exit 3), or error (anything else or missing).
type RunClassification string

const (
	ClassificationSuccess RunClassification = "success"
	ClassificationFail    RunClassification = "fail"
	ClassificationStuck   RunClassification = "stuck"
	ClassificationError   RunClassification = "error"
)

// ClassifyRun derives the harness's RunClassification from the loop's exit
// code and whether the case's own post-run checks passed.
func ClassifyRun(exitCode int, postChecksPassed bool) RunClassification {
	switch exitCode {
	case 0:
		if postChecksPassed {
			return ClassificationSuccess
		}
		return ClassificationFail
	case 3:
		return ClassificationStuck
	default:
		return ClassificationError
	}
}

// CaseResult is what the evaluation harness is expected to read out of a
// workspace after driving it: the on-disk contract from state/ and
// iterations/<run_id>/<iter>/, not an in-process return value.
type CaseResult struct {
	RunID          string
	ExitCode       int
	Classification RunClassification
	Iterations     uint32
	FailureReason  string
}

// EvalHarness is the interface a batch evaluation tool implements: for each
// case it provisions a fresh workspace, invokes `runner start` then
// `runner loop` against it, and reports what it found. The harness itself
// lives outside this module; only the shape it must satisfy is typed here.
type EvalHarness interface {
	RunCase(ctx context.Context, workspaceRoot string) (CaseResult, error)
}

// RunState is the monitoring server's coarse view of a workspace. Terminal
// states take precedence: a run that has reached a terminal classification
// is authoritative over any in-flight activity signal.
type RunState string

const (
	RunStateUnknown RunState = "unknown"
	RunStateRunning RunState = "running"
	RunStateSuccess RunState = "success"
	RunStateFail    RunState = "fail"
)

// RunSnapshot is the compact, poll-friendly view a monitoring server reads.
type RunSnapshot struct {
	RunID         string
	State         RunState
	CurrentNodeID string
	Iter          uint32
	LastEventAt   time.Time
	FailureReason string
}

// RunSnapshotReader is what a read-only monitoring server polls:
// state/tree.json, state/run_state.json, and the per-iteration directories,
// tolerating brief absence or staleness from concurrent atomic writers.
type RunSnapshotReader interface {
	LoadSnapshot(workspaceRoot string) (*RunSnapshot, error)
}

// WorkspaceSnapshotReader is the concrete RunSnapshotReader this module
// ships: it reads the same on-disk contract a real monitoring server would,
// with no coupling beyond the files themselves.
type WorkspaceSnapshotReader struct{}

// LoadSnapshot implements RunSnapshotReader by reading run_state.json and
// the tree, tolerating a tree that fails to parse (brief write-in-progress
// window) by reporting RunStateUnknown rather than erroring.
func (WorkspaceSnapshotReader) LoadSnapshot(workspaceRoot string) (*RunSnapshot, error) {
	p := store.NewPaths(workspaceRoot)
	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		return &RunSnapshot{State: RunStateUnknown}, nil
	}
	snap := &RunSnapshot{State: RunStateUnknown, Iter: rs.NextIter}
	if rs.RunID != nil {
		snap.RunID = *rs.RunID
	}

	root, err := store.LoadTree(p.TreePath, nil)
	if err != nil {
		return snap, nil
	}
	sel := selector.Select(root)
	switch {
	case sel.Complete:
		snap.State = RunStateSuccess
	case sel.Stuck:
		snap.State = RunStateFail
		snap.CurrentNodeID = sel.Leaf.ID
		snap.FailureReason = "leaf exhausted retries: " + sel.Path
	default:
		snap.State = RunStateRunning
		snap.CurrentNodeID = sel.Leaf.ID
	}

	if rs.LastStatus != nil && *rs.LastStatus == update.StatusDone && rs.LastGuard != nil && *rs.LastGuard == update.GuardFail {
		lastIter := rs.NextIter
		if lastIter > 0 {
			lastIter--
		}
		iterPaths := store.NewIterationPaths(p, snap.RunID, lastIter)
		if info, statErr := os.Stat(iterPaths.MetaPath); statErr == nil {
			snap.LastEventAt = info.ModTime()
		}
	}
	return snap, nil
}

// TemplateCache is the prompt-variant lab's cache contract: results keyed by
// a content hash of the rendered template, so two variants that happen to
// render identically share a cache entry.
type TemplateCache interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
}

// TemplateContentHash hashes a rendered prompt with blake3, so the lab and
// the runner agree on one hash algorithm for cache keys.
func TemplateContentHash(rendered string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(rendered))
	return hex.EncodeToString(h.Sum(nil))
}
