// Package selector implements the deterministic choice of the next open
// leaf in a task tree, and stuck-leaf detection.
package selector

import "github.com/danshapiro/runnerloop/internal/runner/tree"

// Outcome is the result of selecting from a tree: exactly one of Complete,
// Open, or Stuck holds.
type Outcome struct {
	Complete bool
	Stuck    bool
	Leaf     *tree.Node
	Path     string
}

// Select performs a deterministic depth-first leftmost traversal (children
// are assumed already sorted by (order, id)) and returns the first leaf with
// Passes=false, classified as Stuck iff its attempts have been exhausted.
func Select(root *tree.Node) Outcome {
	if root.Passes {
		return Outcome{Complete: true}
	}
	leaf := firstOpenLeaf(root)
	if leaf == nil {
		// No open leaf but root isn't marked passes=true: this can only
		// happen if the tree is malformed (caller should invariant-check
		// first), so report stuck on the root itself rather than panic.
		return Outcome{Stuck: true, Leaf: root, Path: tree.Path(root, root.ID)}
	}
	stuck := leaf.Attempts >= leaf.MaxAttempts
	return Outcome{Stuck: stuck, Leaf: leaf, Path: tree.Path(root, leaf.ID)}
}

func firstOpenLeaf(n *tree.Node) *tree.Node {
	if n.IsLeaf() {
		if !n.Passes {
			return n
		}
		return nil
	}
	for _, c := range n.Children {
		if found := firstOpenLeaf(c); found != nil {
			return found
		}
	}
	return nil
}
