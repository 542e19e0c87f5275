// Package tree defines the task-tree data model and the semantic invariants
// that hold on every load and after every agent edit.
package tree

import (
	"fmt"
	"sort"
)

// NextKind declares whether a leaf is intended for direct execution or
// further decomposition.
type NextKind string

const (
	NextExecute   NextKind = "execute"
	NextDecompose NextKind = "decompose"
)

// Node is the unit of work in the task tree. Children are kept sorted by
// (Order, ID) ascending; Passes, Attempts, and (on existing nodes) Next are
// runner-owned fields.
type Node struct {
	ID          string   `json:"id"`
	Order       int64    `json:"order"`
	Title       string   `json:"title"`
	Goal        string   `json:"goal"`
	Acceptance  []string `json:"acceptance"`
	Next        NextKind `json:"next"`
	Passes      bool     `json:"passes"`
	Attempts    uint32   `json:"attempts"`
	MaxAttempts uint32   `json:"max_attempts"`
	Children    []*Node  `json:"children"`
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Acceptance = append([]string(nil), n.Acceptance...)
	if n.Children != nil {
		cp.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return &cp
}

// SortChildren recursively sorts every level of the subtree by (Order, ID).
func (n *Node) SortChildren() {
	if n == nil {
		return
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	for _, c := range n.Children {
		c.SortChildren()
	}
}

// Canonicalize puts the subtree in its on-disk form: children sorted by
// (Order, ID) at every level and nil acceptance/children slices replaced
// with empty ones so the tree always serializes as JSON arrays, never null.
// Idempotent.
func (n *Node) Canonicalize() {
	if n == nil {
		return
	}
	n.SortChildren()
	n.fillEmptySlices()
}

func (n *Node) fillEmptySlices() {
	if n.Acceptance == nil {
		n.Acceptance = []string{}
	}
	if n.Children == nil {
		n.Children = []*Node{}
	}
	for _, c := range n.Children {
		c.fillEmptySlices()
	}
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n != nil && len(n.Children) == 0
}

// Find returns the node with the given id in the subtree rooted at n, or nil.
func (n *Node) Find(id string) *Node {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Default returns the placeholder root node written by Init.
func Default() *Node {
	return &Node{
		ID:          "root",
		Order:       0,
		Title:       "Root",
		Goal:        "Top-level goal (see GOAL.md)",
		Acceptance:  nil,
		Next:        NextDecompose,
		Passes:      false,
		Attempts:    0,
		MaxAttempts: 3,
		Children:    nil,
	}
}

// ValidateInvariants checks the semantic invariants that a JSON Schema cannot
// express: unique ids, max_attempts > 0, attempts <= max_attempts, and
// children sorted by (order, id). It returns every violation found, not just
// the first.
func ValidateInvariants(root *Node) []string {
	var errs []string
	seen := map[string]bool{}
	validateNode(root, seen, &errs, root.ID)
	return errs
}

func validateNode(n *Node, seen map[string]bool, errs *[]string, path string) {
	if seen[n.ID] {
		*errs = append(*errs, fmt.Sprintf("duplicate id %q at %s", n.ID, path))
	}
	seen[n.ID] = true

	if n.MaxAttempts == 0 {
		*errs = append(*errs, fmt.Sprintf("%s: max_attempts must be > 0", path))
	}
	if n.Attempts > n.MaxAttempts {
		*errs = append(*errs, fmt.Sprintf("%s: attempts %d exceeds max_attempts %d", path, n.Attempts, n.MaxAttempts))
	}
	if !childrenSorted(n.Children) {
		*errs = append(*errs, fmt.Sprintf("%s: children must be sorted by (order,id)", path))
	}

	for _, c := range n.Children {
		validateNode(c, seen, errs, path+"/"+c.ID)
	}
}

func childrenSorted(children []*Node) bool {
	for i := 1; i < len(children); i++ {
		a, b := children[i-1], children[i]
		if a.Order > b.Order || (a.Order == b.Order && a.ID > b.ID) {
			return false
		}
	}
	return true
}

// CountNodes returns the total number of nodes in the subtree rooted at n.
func CountNodes(n *Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		count += CountNodes(c)
	}
	return count
}

// Path returns the "/"-joined id chain from root to the node with the given
// id, or the empty string if the id is not present in the tree.
func Path(root *Node, id string) string {
	var walk func(n *Node, prefix string) string
	walk = func(n *Node, prefix string) string {
		here := prefix + "/" + n.ID
		if n.ID == id {
			return here
		}
		for _, c := range n.Children {
			if p := walk(c, here); p != "" {
				return p
			}
		}
		return ""
	}
	p := walk(root, "")
	if p == "" {
		return ""
	}
	return p[1:]
}
