package step

import (
	"fmt"
	"strings"

	"github.com/danshapiro/runnerloop/internal/runner/tree"
)

// maxSummaryNodes bounds the tree-summary section so a very large tree
// cannot blow the prompt budget on its own; nodes beyond the cap are
// counted but not rendered.
const maxSummaryNodes = 200

// selectedNodeFacts renders the selected node's own fields for the
// selected-node prompt section.
func selectedNodeFacts(n *tree.Node, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", n.ID)
	fmt.Fprintf(&b, "path: %s\n", path)
	fmt.Fprintf(&b, "title: %s\n", n.Title)
	fmt.Fprintf(&b, "goal: %s\n", n.Goal)
	fmt.Fprintf(&b, "next: %s\n", n.Next)
	fmt.Fprintf(&b, "attempts: %d/%d\n", n.Attempts, n.MaxAttempts)
	if len(n.Acceptance) > 0 {
		b.WriteString("acceptance:\n")
		for _, a := range n.Acceptance {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	return b.String()
}

// summarizeTree renders a bounded-depth, bounded-node-count outline of the
// whole tree so the agent can see where the selected node sits.
func summarizeTree(root *tree.Node) string {
	var b strings.Builder
	count := 0
	var walk func(n *tree.Node, depth int)
	walk = func(n *tree.Node, depth int) {
		if count >= maxSummaryNodes {
			return
		}
		count++
		status := "open"
		if n.Passes {
			status = "passed"
		}
		fmt.Fprintf(&b, "%s- %s [%s] (%s, attempts %d/%d)\n",
			strings.Repeat("  ", depth), n.ID, n.Title, status, n.Attempts, n.MaxAttempts)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	total := tree.CountNodes(root)
	if total > count {
		fmt.Fprintf(&b, "... (%d more nodes omitted)\n", total-count)
	}
	return b.String()
}
