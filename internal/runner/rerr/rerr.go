// Package rerr holds the typed error values the step orchestrator and loop
// driver classify terminal outcomes from: typed values matched with
// errors.As, not parsed strings.
package rerr

import "fmt"

// ErrStuckLeaf is returned (via errors.As) when the selector finds the
// leftmost open leaf has exhausted its retries.
type ErrStuckLeaf struct {
	ID          string
	Path        string
	Attempts    uint32
	MaxAttempts uint32
}

func (e *ErrStuckLeaf) Error() string {
	return fmt.Sprintf("stuck leaf %s (%s): attempts %d/%d exhausted", e.ID, e.Path, e.Attempts, e.MaxAttempts)
}

// ErrMaxIterationsExceeded describes the loop driver's configured iteration
// cap being hit before the root completes. The loop driver reports that case
// through its outcome value and does not return this error.
type ErrMaxIterationsExceeded struct {
	NextIter      uint32
	MaxIterations uint32
}

func (e *ErrMaxIterationsExceeded) Error() string {
	return fmt.Sprintf("max iterations exceeded: next_iter=%d max_iterations=%d", e.NextIter, e.MaxIterations)
}

// ErrAlreadyComplete is returned when Step is invoked on a tree whose root
// already passes; re-running Step in that state is a no-op error, not state
// corruption.
type ErrAlreadyComplete struct{}

func (e *ErrAlreadyComplete) Error() string { return "tree already complete" }

// ErrTreeInvariant wraps a tree schema or semantic-invariant failure.
type ErrTreeInvariant struct {
	Detail string
}

func (e *ErrTreeInvariant) Error() string { return "tree invariant violation: " + e.Detail }

// ErrValidation wraps a failure of the three agent-edit validators
// (immutability, child-addition locality, status/edit consistency).
type ErrValidation struct {
	Detail string
}

func (e *ErrValidation) Error() string { return "validation failure: " + e.Detail }

// ErrSetup covers workspace-layout, branch-policy, and dirty-worktree
// preflight failures: reported, never retried.
type ErrSetup struct {
	Detail string
}

func (e *ErrSetup) Error() string { return "setup error: " + e.Detail }

// ErrIterationTimeout describes a step whose per-iteration deadline is
// exhausted before the step completes. No runner code path returns it: an
// agent that runs past the deadline is recorded as a synthetic retry.
type ErrIterationTimeout struct {
	Deadline string
}

func (e *ErrIterationTimeout) Error() string {
	return fmt.Sprintf("iteration timed out (deadline %s)", e.Deadline)
}

// ErrInternal marks a runner bug surfaced to the operator: it must never be
// written into agent-facing context files.
type ErrInternal struct {
	Detail string
}

func (e *ErrInternal) Error() string { return "internal error: " + e.Detail }
