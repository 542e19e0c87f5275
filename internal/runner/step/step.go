// Package step implements the orchestrator's single iteration, in strict
// order: select, render context, invoke the agent, validate its edits, run
// the guard, apply the state-update engine, persist, and commit.
package step

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/runnerloop/internal/runner/agentio"
	"github.com/danshapiro/runnerloop/internal/runner/guard"
	"github.com/danshapiro/runnerloop/internal/runner/rerr"
	"github.com/danshapiro/runnerloop/internal/runner/selector"
	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/tree"
	"github.com/danshapiro/runnerloop/internal/runner/treevalidate"
	"github.com/danshapiro/runnerloop/internal/runner/update"
	"github.com/danshapiro/runnerloop/internal/runner/vcs"
)

// defaultPromptBudgetBytes is used when Options.PromptBudgetBytes is 0.
const defaultPromptBudgetBytes = 16 * 1024

// AgentLauncher builds the subprocess argv for one agent invocation. The
// concrete flag names for the schema/output paths are tool-specific, so the
// orchestrator only knows the variant and the two paths.
type AgentLauncher interface {
	Argv(variant agentio.Variant, schemaPath, outputPath string) []string
}

// Schemas bundles the compiled JSON schemas the step needs.
type Schemas struct {
	Tree       *jsonschema.Schema
	Executor   *jsonschema.Schema
	Decomposer *jsonschema.Schema
}

// Deps are the orchestrator's external collaborators.
type Deps struct {
	Root     string
	Git      *vcs.Git
	Schemas  Schemas
	Launcher AgentLauncher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Options configures one Step invocation.
type Options struct {
	PromptBudgetBytes int
	PlannerNotes      string
}

// Result summarizes a completed (non-error) iteration.
type Result struct {
	RunID     string
	Iter      uint32
	NodeID    string
	Status    update.AgentStatus
	Guard     update.GuardOutcome
	Update    update.Summary
	CommitSHA string
}

var protectedBranches = map[string]bool{"main": true, "master": true}

// Step runs exactly one iteration against the workspace at d.Root.
func Step(ctx context.Context, d Deps, opts Options) (Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	p := store.NewPaths(d.Root)

	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		return Result{}, &rerr.ErrSetup{Detail: fmt.Sprintf("load run state: %v", err)}
	}
	if rs.RunID == nil || *rs.RunID == "" {
		return Result{}, &rerr.ErrSetup{Detail: "run state has no run_id; run `runner start` first"}
	}
	runID := *rs.RunID

	if err := preflight(d.Git, p, runID); err != nil {
		return Result{}, err
	}

	cfg, err := store.LoadConfig(p.ConfigPath)
	if err != nil {
		return Result{}, &rerr.ErrSetup{Detail: fmt.Sprintf("load config: %v", err)}
	}
	deadline := now().Add(time.Duration(cfg.IterationTimeoutSecs) * time.Second)
	stepCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	prev, err := store.LoadTree(p.TreePath, d.Schemas.Tree)
	if err != nil {
		return Result{}, &rerr.ErrTreeInvariant{Detail: err.Error()}
	}

	sel := selector.Select(prev)
	if sel.Complete {
		return Result{}, &rerr.ErrAlreadyComplete{}
	}
	if sel.Stuck {
		return Result{}, &rerr.ErrStuckLeaf{
			ID: sel.Leaf.ID, Path: sel.Path,
			Attempts: sel.Leaf.Attempts, MaxAttempts: sel.Leaf.MaxAttempts,
		}
	}
	selected := sel.Leaf
	iter := rs.NextIter
	iterLogger := logger.With("run_id", runID, "iter", iter, "node_id", selected.ID)

	history, failure := previousIterationContext(p, runID, rs)
	if _, err := store.WriteContext(p, store.ContextPayload{
		Goal:    selected.Goal,
		History: history,
		Failure: failure,
	}); err != nil {
		return Result{}, fmt.Errorf("step: render context: %w", err)
	}

	phase, err := attemptAgent(stepCtx, d, p, cfg, prev, selected, sel.Path, opts, history, failure, deadline, iterLogger)
	if err != nil {
		return Result{}, err
	}

	updatedTree, upd, err := update.Apply(prev, phase.nextTree, selected.ID, phase.status, phase.guard)
	if err != nil {
		return Result{}, &rerr.ErrInternal{Detail: err.Error()}
	}
	if err := store.WriteTree(p.TreePath, updatedTree); err != nil {
		return Result{}, fmt.Errorf("step: write tree: %w", err)
	}

	meta := &store.IterationMeta{
		RunID:      runID,
		Iter:       iter,
		NodeID:     selected.ID,
		Status:     phase.status,
		Guard:      phase.guard,
		CallID:     phase.callID,
		StartedAt:  phase.startedAt.Format(time.RFC3339Nano),
		EndedAt:    now().Format(time.RFC3339Nano),
		DurationMS: now().Sub(phase.startedAt).Milliseconds(),
	}
	if phase.isRunnerError {
		meta.Error = phase.errorDetail
	}
	if _, err := store.WriteIteration(p, store.IterationWriteRequest{
		RunID:      runID,
		Iter:       iter,
		Meta:       meta,
		Output:     phase.output,
		GuardLog:   phase.guardLog,
		Transcript: phase.transcript,
		TreeBefore: prev,
		TreeAfter:  updatedTree,
	}); err != nil {
		return Result{}, fmt.Errorf("step: write iteration artifacts: %w", err)
	}

	rs.NextIter = iter + 1
	status := phase.status
	rs.LastStatus = &status
	guardOutcome := phase.guard
	rs.LastGuard = &guardOutcome
	if phase.isRunnerError {
		rs.LastSummary = nil
	} else {
		summary := phase.summary
		rs.LastSummary = &summary
	}
	if err := store.WriteRunState(p.RunStatePath, rs); err != nil {
		return Result{}, fmt.Errorf("step: write run state: %w", err)
	}

	if err := d.Git.AddAll(); err != nil {
		return Result{}, fmt.Errorf("step: stage: %w", err)
	}
	staged, err := d.Git.HasStagedChanges()
	if err != nil {
		return Result{}, fmt.Errorf("step: check staged changes: %w", err)
	}
	if !staged {
		return Result{}, &rerr.ErrInternal{Detail: "iteration produced no file changes to commit"}
	}
	msg := fmt.Sprintf("runner: iter=%d node=%s status=%s guard=%s", iter, selected.ID, phase.status, phase.guard)
	sha, err := d.Git.CommitStaged(msg)
	if err != nil {
		return Result{}, fmt.Errorf("step: commit: %w", err)
	}

	iterLogger.Info("step complete", "status", phase.status, "guard", phase.guard, "commit", sha)

	return Result{
		RunID: runID, Iter: iter, NodeID: selected.ID,
		Status: phase.status, Guard: phase.guard, Update: upd, CommitSHA: sha,
	}, nil
}

func preflight(g *vcs.Git, p store.Paths, runID string) error {
	branch, err := g.CurrentBranch()
	if err != nil {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("cannot determine current branch: %v", err)}
	}
	if protectedBranches[branch] {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("refusing to step on protected branch %q", branch)}
	}
	clean, err := g.IsClean()
	if err != nil {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("check worktree status: %v", err)}
	}
	if !clean {
		return &rerr.ErrSetup{Detail: "worktree is not clean"}
	}
	has, err := store.HasRequiredGitignoreLines(p.GitignorePath)
	if err != nil {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("check gitignore: %v", err)}
	}
	if !has {
		return &rerr.ErrSetup{Detail: "gitignore is missing a required ephemeral-prefix entry"}
	}
	goalID, ok, err := store.ReadGoalID(p.GoalPath)
	if err != nil {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("read goal id: %v", err)}
	}
	if !ok || goalID == "" {
		return &rerr.ErrSetup{Detail: "goal document has no stable id"}
	}
	if goalID != runID {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("run identity mismatch: run_state.run_id=%q goal id=%q", runID, goalID)}
	}
	wantBranch := "runner/" + runID
	if branch != wantBranch {
		return &rerr.ErrSetup{Detail: fmt.Sprintf("run identity mismatch: run_state.run_id=%q implies branch %q, but current branch is %q", runID, wantBranch, branch)}
	}
	return nil
}

// previousIterationContext derives the history (previous explicit retry
// summary) and failure (previous done+fail guard log) context text from the
// run state left by the prior iteration. Runner-internal errors never
// surface here: rs.LastSummary is cleared whenever the prior iteration's
// failure was a runner error, not an agent-declared retry.
func previousIterationContext(p store.Paths, runID string, rs *store.RunState) (history, failure string) {
	if rs.LastStatus == nil {
		return "", ""
	}
	if *rs.LastStatus == update.StatusRetry && rs.LastSummary != nil {
		history = *rs.LastSummary
	}
	if *rs.LastStatus == update.StatusDone && rs.LastGuard != nil && *rs.LastGuard == update.GuardFail {
		lastIter := rs.NextIter
		if lastIter > 0 {
			lastIter--
		}
		prevPaths := store.NewIterationPaths(p, runID, lastIter)
		if b, err := os.ReadFile(prevPaths.GuardLogPath); err == nil {
			failure = string(b)
		}
	}
	return history, failure
}

type agentPhaseResult struct {
	status        update.AgentStatus
	guard         update.GuardOutcome
	summary       string
	isRunnerError bool
	errorDetail   string
	nextTree      *tree.Node
	output        any
	guardLog      string
	transcript    string
	callID        string
	startedAt     time.Time
}

// attemptAgent builds the prompt, invokes the agent, validates its edits,
// and runs the guard. Any failure from the point the subprocess is launched
// onward is caught here and converted into a synthetic retry, so a bad
// iteration cannot corrupt the run. Failures before the process is
// attempted (prompt assembly, missing schema file) abort the step without
// charging the leaf an attempt.
func attemptAgent(ctx context.Context, d Deps, p store.Paths, cfg *store.RunnerConfig, prev *tree.Node, selected *tree.Node, path string, opts Options, history, failure string, deadline time.Time, logger *slog.Logger) (agentPhaseResult, error) {
	started := time.Now()
	runnerErr := func(detail string) agentPhaseResult {
		logger.Warn("step falling back to synthetic retry", "detail", detail)
		return agentPhaseResult{
			status: update.StatusRetry, guard: update.GuardSkipped,
			isRunnerError: true, errorDetail: detail,
			nextTree: prev.Clone(), startedAt: started,
		}
	}

	isExecutor := selected.Next == tree.NextExecute
	variant := agentio.VariantDecomposer
	if isExecutor {
		variant = agentio.VariantExecutor
	}
	schema := d.Schemas.Decomposer
	if isExecutor {
		schema = d.Schemas.Executor
	}
	schemaPath := p.DecomposerSchemaPath
	if isExecutor {
		schemaPath = p.ExecutorSchemaPath
	}

	assumptions := readOptionalFile(p.AssumptionsPath)
	questions := readOptionalFile(p.QuestionsPath)

	prompt, err := agentio.Build(agentio.Inputs{
		Contract:     contractFor(isExecutor),
		Goal:         selected.Goal,
		History:      history,
		Failure:      failure,
		SelectedNode: selectedNodeFacts(selected, path),
		TreeSummary:  summarizeTree(prev),
		Assumptions:  assumptions,
		Questions:    questions,
		PlannerNotes: opts.PlannerNotes,
		IsExecutor:   isExecutor,
	}, promptBudget(opts))
	if err != nil {
		return agentPhaseResult{}, &rerr.ErrInternal{Detail: fmt.Sprintf("build prompt: %v", err)}
	}
	promptHash := blake3.Sum256([]byte(prompt))
	logger.Debug("prompt rendered", "bytes", len(prompt), "blake3", hex.EncodeToString(promptHash[:8]))

	if _, statErr := os.Stat(schemaPath); statErr != nil {
		return agentPhaseResult{}, &rerr.ErrSetup{Detail: fmt.Sprintf("missing output schema %s: %v", schemaPath, statErr)}
	}

	outputPath := filepath.Join(p.ContextDir, "output.json")
	transcriptPath := filepath.Join(p.ContextDir, "transcript.log")
	argv := d.Launcher.Argv(variant, schemaPath, outputPath)

	callID, invokeErr := agentio.Invoke(ctx, agentio.Request{
		Variant: variant, Argv: argv, Workdir: p.Root,
		Prompt: prompt, SchemaPath: schemaPath, OutputPath: outputPath,
		ExecutorLogPath: transcriptPath,
		Timeout:         time.Until(deadline),
		OutputCap:       int64(cfg.ExecutorOutputLimitBytes),
	})
	transcript := readOptionalFile(transcriptPath)
	if invokeErr != nil {
		r := runnerErr(fmt.Sprintf("agent invocation: %v", invokeErr))
		r.transcript = transcript
		r.callID = callID
		return r, nil
	}

	var status update.AgentStatus
	var summary string
	var output any

	if isExecutor {
		var out store.AgentOutput
		if err := agentio.LoadValidatedOutput(outputPath, schema, &out); err != nil {
			r := runnerErr(fmt.Sprintf("load executor output: %v", err))
			r.transcript, r.callID = transcript, callID
			return r, nil
		}
		status = out.Status
		summary = out.Summary
		output = out
	} else {
		var out agentio.DecomposerOutput
		if err := agentio.LoadValidatedOutput(outputPath, schema, &out); err != nil {
			r := runnerErr(fmt.Sprintf("load decomposer output: %v", err))
			r.transcript, r.callID = transcript, callID
			return r, nil
		}
		status = update.StatusDecomposed
		summary = out.Summary
		output = out
	}

	next, err := store.LoadTree(p.TreePath, d.Schemas.Tree)
	if err != nil {
		r := runnerErr(fmt.Sprintf("reload tree after agent edit: %v", err))
		r.transcript, r.callID = transcript, callID
		return r, nil
	}

	if err := treevalidate.All(prev, next, selected.ID, status); err != nil {
		r := runnerErr(fmt.Sprintf("validate agent edit: %v", err))
		r.transcript, r.callID = transcript, callID
		return r, nil
	}

	guardOutcome := update.GuardSkipped
	var guardLog string
	if status == update.StatusDone {
		gres, gerr := guard.Run(ctx, guard.Request{
			Command: cfg.Guard.Command, Dir: p.Root,
			Timeout: time.Until(deadline), OutputCap: int64(cfg.GuardOutputLimitBytes),
		})
		if gerr != nil {
			r := runnerErr(fmt.Sprintf("run guard: %v", gerr))
			r.transcript, r.callID = transcript, callID
			return r, nil
		}
		guardOutcome = gres.Outcome
		guardLog = gres.Log
	}

	return agentPhaseResult{
		status: status, guard: guardOutcome, summary: summary,
		nextTree: next, output: output, guardLog: guardLog,
		transcript: transcript, callID: callID, startedAt: started,
	}, nil
}

func promptBudget(opts Options) int {
	if opts.PromptBudgetBytes > 0 {
		return opts.PromptBudgetBytes
	}
	return defaultPromptBudgetBytes
}

func readOptionalFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
