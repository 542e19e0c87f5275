// Package update implements the state-update engine: given a previous tree,
// a proposed next tree (post-agent), the selected node id, the agent's
// reported status, and the guard outcome, it restores runner-owned fields,
// applies the selected-node transition, propagates passes bottom-up, and
// canonicalizes ordering.
package update

import (
	"fmt"
	"sort"

	"github.com/danshapiro/runnerloop/internal/runner/tree"
)

// ErrInvalidCombination is returned when the engine is asked to apply a
// status/guard combination that should never arise in normal flow: the
// done+skipped pairing, which is surfaced loudly rather than silently
// passed or failed.
type ErrInvalidCombination struct {
	Status AgentStatus
	Guard  GuardOutcome
}

func (e *ErrInvalidCombination) Error() string {
	return fmt.Sprintf("invalid status/guard combination: status=%s guard=%s", e.Status, e.Guard)
}

// Summary lists the ids the engine mutated or derived, sorted lexicographically
// for reproducible logs.
type Summary struct {
	Marked      []string // passes set true
	Incremented []string // attempts incremented
	Derived     []string // internal node passes derived by propagation
}

// Apply runs the full state-update sequence and returns the resulting tree
// (next, mutated in place) and a summary of what changed.
func Apply(prev, next *tree.Node, selectedID string, status AgentStatus, guard GuardOutcome) (*tree.Node, Summary, error) {
	if status == StatusDone && guard == GuardSkipped {
		return nil, Summary{}, &ErrInvalidCombination{Status: status, Guard: guard}
	}

	prevByID := map[string]*tree.Node{}
	indexByID(prev, prevByID)

	restoreOwnedFields(next, prevByID)

	var marked, incremented []string
	selected := next.Find(selectedID)
	if selected == nil {
		return nil, Summary{}, fmt.Errorf("state update: selected node %q not found in next tree", selectedID)
	}

	switch {
	case status == StatusDone && guard == GuardPass:
		selected.Passes = true
		marked = append(marked, selected.ID)
	case status == StatusDone && guard == GuardFail:
		incrementSaturating(selected)
		incremented = append(incremented, selected.ID)
	case status == StatusRetry:
		incrementSaturating(selected)
		incremented = append(incremented, selected.ID)
	case status == StatusDecomposed:
		// no mutation of passes/attempts on the selected node
	default:
		return nil, Summary{}, fmt.Errorf("state update: unhandled status %q", status)
	}

	var derived []string
	propagatePasses(next, &derived)

	next.SortChildren()

	sort.Strings(marked)
	sort.Strings(incremented)
	sort.Strings(derived)

	return next, Summary{Marked: marked, Incremented: incremented, Derived: derived}, nil
}

func indexByID(n *tree.Node, out map[string]*tree.Node) {
	if n == nil {
		return
	}
	out[n.ID] = n
	for _, c := range n.Children {
		indexByID(c, out)
	}
}

// restoreOwnedFields restores passes/attempts/next on every node that existed
// in the previous tree. Nodes introduced in this step keep the Next set by
// the decomposer but are forced to passes=false, attempts=0.
func restoreOwnedFields(n *tree.Node, prevByID map[string]*tree.Node) {
	if n == nil {
		return
	}
	if prior, ok := prevByID[n.ID]; ok {
		n.Passes = prior.Passes
		n.Attempts = prior.Attempts
		n.Next = prior.Next
	} else {
		n.Passes = false
		n.Attempts = 0
	}
	for _, c := range n.Children {
		restoreOwnedFields(c, prevByID)
	}
}

func incrementSaturating(n *tree.Node) {
	if n.Attempts < n.MaxAttempts {
		n.Attempts++
	}
}

// propagatePasses derives internal node passes bottom-up: an internal node
// gains passes=true iff all of its non-empty children are passes=true.
func propagatePasses(n *tree.Node, derived *[]string) bool {
	if n.IsLeaf() {
		return n.Passes
	}
	all := true
	for _, c := range n.Children {
		if !propagatePasses(c, derived) {
			all = false
		}
	}
	if n.Passes != all {
		n.Passes = all
		*derived = append(*derived, n.ID)
	}
	return n.Passes
}
