// Package agentio implements the agent-invocation layer: deterministic,
// byte-budgeted prompt assembly and the subprocess transport shared by the
// tree, decomposer, and executor agent variants.
package agentio

import (
	"fmt"
	"strings"
)

// sectionName is one of the fixed, ordered prompt sections.
type sectionName string

const (
	sectionContract  sectionName = "contract"
	sectionGoal      sectionName = "goal"
	sectionHistory   sectionName = "history"
	sectionFailure   sectionName = "failure"
	sectionSelected  sectionName = "selected-node"
	sectionTree      sectionName = "tree-summary"
	sectionAssume    sectionName = "assumptions"
	sectionQuestions sectionName = "questions"
	sectionPlanner   sectionName = "planner-notes"
)

// renderOrder is the fixed section order every prompt is assembled in.
var renderOrder = []sectionName{
	sectionContract, sectionGoal, sectionHistory, sectionFailure,
	sectionSelected, sectionTree, sectionAssume, sectionQuestions, sectionPlanner,
}

// dropOrder is the fixed priority order droppable sections are removed in
// when the rendered prompt exceeds budget.
var dropOrder = []sectionName{
	sectionTree, sectionAssume, sectionQuestions, sectionHistory, sectionFailure, sectionPlanner,
}

var requiredSections = map[sectionName]bool{
	sectionContract: true,
	sectionGoal:     true,
	sectionSelected: true,
}

type section struct {
	name    sectionName
	content string
}

// Inputs holds the typed content for every prompt section. Empty or
// whitespace-only fields are elided entirely. PlannerNotes is only rendered
// for the executor variant.
type Inputs struct {
	Contract     string
	Goal         string
	History      string
	Failure      string
	SelectedNode string
	TreeSummary  string
	Assumptions  string
	Questions    string
	PlannerNotes string
	IsExecutor   bool
}

func (in Inputs) section(name sectionName) string {
	switch name {
	case sectionContract:
		return in.Contract
	case sectionGoal:
		return in.Goal
	case sectionHistory:
		return in.History
	case sectionFailure:
		return in.Failure
	case sectionSelected:
		return in.SelectedNode
	case sectionTree:
		return in.TreeSummary
	case sectionAssume:
		return in.Assumptions
	case sectionQuestions:
		return in.Questions
	case sectionPlanner:
		if !in.IsExecutor {
			return ""
		}
		return in.PlannerNotes
	}
	return ""
}

const truncationMarker = "\n[truncated]\n"

// Build assembles the prompt within budgetBytes. If the full render exceeds
// budget, droppable sections are removed in dropOrder until it fits or only
// required sections remain; if still oversize, the last surviving section is
// truncated with an explicit marker.
func Build(in Inputs, budgetBytes int) (string, error) {
	sections := activeSections(in)
	rendered := render(sections)
	if budgetBytes <= 0 || len(rendered) <= budgetBytes {
		return rendered, nil
	}

	present := map[sectionName]bool{}
	for _, s := range sections {
		present[s.name] = true
	}

	for _, drop := range dropOrder {
		if !present[drop] {
			continue
		}
		delete(present, drop)
		sections = filterSections(sections, present)
		rendered = render(sections)
		if len(rendered) <= budgetBytes {
			return rendered, nil
		}
	}

	if len(sections) == 0 {
		return "", fmt.Errorf("prompt: no sections survive a budget of %d bytes", budgetBytes)
	}
	last := len(sections) - 1
	sections[last].content = truncate(sections[last], budgetBytes, render(sections[:last]))
	return render(sections), nil
}

func activeSections(in Inputs) []section {
	var out []section
	for _, name := range renderOrder {
		content := strings.TrimSpace(in.section(name))
		if content == "" {
			continue
		}
		out = append(out, section{name: name, content: content})
	}
	return out
}

func filterSections(sections []section, keep map[sectionName]bool) []section {
	var out []section
	for _, s := range sections {
		if keep[s.name] {
			out = append(out, s)
		}
	}
	return out
}

func render(sections []section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.name, s.content)
	}
	return b.String()
}

// truncate shrinks a section's content so the full render (with everything
// before it already fixed at prefixRendered) fits within budgetBytes, and
// appends an explicit truncation marker.
func truncate(s section, budgetBytes int, prefixRendered string) string {
	header := fmt.Sprintf("## %s\n\n", s.name)
	overhead := len(prefixRendered) + len(header) + len("\n\n") + len(truncationMarker)
	allowed := budgetBytes - overhead
	if allowed < 0 {
		allowed = 0
	}
	if allowed >= len(s.content) {
		return s.content
	}
	return s.content[:allowed] + truncationMarker
}
