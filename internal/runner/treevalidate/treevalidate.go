// Package treevalidate implements the three checks that run between agent
// output and the state-update engine: passed-node immutability,
// child-addition locality, and agent-status/edit consistency.
package treevalidate

import (
	"fmt"
	"reflect"

	"github.com/danshapiro/runnerloop/internal/runner/tree"
	"github.com/danshapiro/runnerloop/internal/runner/update"
)

// Error reports a validation failure naming which check failed.
type Error struct {
	Check   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Check, e.Message)
}

// CheckImmutability verifies that every node with Passes=true in prev is
// byte-identical (all fields, parent attachment, sub-tree) in next.
func CheckImmutability(prev, next *tree.Node) error {
	prevParent := map[string]string{}
	buildParentIndex(prev, "", prevParent)
	nextByID := map[string]*tree.Node{}
	indexByID(next, nextByID)

	var walk func(n *tree.Node, parentID string) error
	walk = func(n *tree.Node, parentID string) error {
		if n.Passes {
			got, ok := nextByID[n.ID]
			if !ok {
				return &Error{"immutability", fmt.Sprintf("passed node %q missing from next tree", n.ID)}
			}
			gotParent := nextParentOf(next, n.ID)
			if gotParent != parentID {
				return &Error{"immutability", fmt.Sprintf("passed node %q moved from parent %q to %q", n.ID, parentID, gotParent)}
			}
			if !subtreeEqual(n, got) {
				return &Error{"immutability", fmt.Sprintf("passed node %q changed", n.ID)}
			}
			// A passed node's entire subtree is frozen; no need to recurse
			// further since subtreeEqual already compared it.
			return nil
		}
		for _, c := range n.Children {
			if err := walk(c, n.ID); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(prev, "")
}

func subtreeEqual(a, b *tree.Node) bool {
	return reflect.DeepEqual(a, b)
}

func buildParentIndex(n *tree.Node, parentID string, out map[string]string) {
	out[n.ID] = parentID
	for _, c := range n.Children {
		buildParentIndex(c, n.ID, out)
	}
}

func nextParentOf(root *tree.Node, id string) string {
	var parentID string
	var walk func(n *tree.Node, parent string)
	walk = func(n *tree.Node, parent string) {
		if n.ID == id {
			parentID = parent
			return
		}
		for _, c := range n.Children {
			walk(c, n.ID)
		}
	}
	walk(root, "")
	return parentID
}

func indexByID(n *tree.Node, out map[string]*tree.Node) {
	out[n.ID] = n
	for _, c := range n.Children {
		indexByID(c, out)
	}
}

// CheckChildAdditionLocality verifies that for every parent in next other
// than selectedID, the set difference next.children \ prev.children (by id)
// is empty. A parent absent from prev counts as having no children there, so
// a node added in this step may not carry children of its own.
func CheckChildAdditionLocality(prev, next *tree.Node, selectedID string) error {
	prevChildren := map[string]map[string]bool{}
	collectChildSets(prev, prevChildren)
	nextChildren := map[string]map[string]bool{}
	collectChildSets(next, nextChildren)

	for parentID, nextSet := range nextChildren {
		if parentID == selectedID {
			continue
		}
		prevSet := prevChildren[parentID]
		for childID := range nextSet {
			if prevSet == nil || !prevSet[childID] {
				return &Error{"child-addition-locality", fmt.Sprintf("node %q gained child %q outside the selected node %q", parentID, childID, selectedID)}
			}
		}
	}
	return nil
}

func collectChildSets(n *tree.Node, out map[string]map[string]bool) {
	set := map[string]bool{}
	for _, c := range n.Children {
		set[c.ID] = true
	}
	out[n.ID] = set
	for _, c := range n.Children {
		collectChildSets(c, out)
	}
}

// CheckStatusEditConsistency verifies that a `decomposed` status corresponds
// to a strict increase in the selected node's child count, and `done`/`retry`
// correspond to no increase.
func CheckStatusEditConsistency(prev, next *tree.Node, selectedID string, status update.AgentStatus) error {
	prevNode := findNode(prev, selectedID)
	nextNode := findNode(next, selectedID)
	if prevNode == nil || nextNode == nil {
		return &Error{"status-edit-consistency", fmt.Sprintf("selected node %q not found in both trees", selectedID)}
	}
	prevCount := len(prevNode.Children)
	nextCount := len(nextNode.Children)

	switch status {
	case update.StatusDecomposed:
		if nextCount <= prevCount {
			return &Error{"status-edit-consistency", fmt.Sprintf("decomposed status requires selected node %q child count to strictly increase (was %d, now %d)", selectedID, prevCount, nextCount)}
		}
	case update.StatusDone, update.StatusRetry:
		if nextCount > prevCount {
			return &Error{"status-edit-consistency", fmt.Sprintf("%s status forbids selected node %q child count increase (was %d, now %d)", status, selectedID, prevCount, nextCount)}
		}
	}
	return nil
}

func findNode(n *tree.Node, id string) *tree.Node {
	return n.Find(id)
}

// All runs the three checks in order, returning the first failure.
func All(prev, next *tree.Node, selectedID string, status update.AgentStatus) error {
	if err := CheckImmutability(prev, next); err != nil {
		return err
	}
	if err := CheckChildAdditionLocality(prev, next, selectedID); err != nil {
		return err
	}
	if err := CheckStatusEditConsistency(prev, next, selectedID, status); err != nil {
		return err
	}
	return nil
}
