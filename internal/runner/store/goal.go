package store

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateID checks that id is acceptable as a run id / branch suffix.
func ValidateID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return fmt.Errorf("invalid id %q: must match %s", id, idPattern.String())
	}
	return nil
}

type goalFrontMatter struct {
	ID string `yaml:"id"`
}

// ReadGoalID reads the stable id from GOAL.md's YAML front matter, if any.
func ReadGoalID(path string) (string, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read goal %s: %w", path, err)
	}
	front, _, ok := splitFrontMatter(string(b))
	if !ok {
		return "", false, nil
	}
	var fm goalFrontMatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return "", false, fmt.Errorf("parse goal front matter %s: %w", path, err)
	}
	if fm.ID == "" {
		return "", false, nil
	}
	return fm.ID, true, nil
}

// EnsureGoalID stamps GOAL.md's front matter with id, rewriting the file only
// if the id is missing or different.
func EnsureGoalID(path, id string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read goal %s: %w", path, err)
	}
	body := string(b)
	front, rest, hasFront := splitFrontMatter(body)

	var fm goalFrontMatter
	if hasFront {
		if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
			return fmt.Errorf("parse goal front matter %s: %w", path, err)
		}
	} else {
		rest = body
	}
	if fm.ID == id {
		return nil
	}
	fm.ID = id

	fmBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return fmt.Errorf("marshal goal front matter: %w", err)
	}
	out := "---\n" + string(fmBytes) + "---\n" + strings.TrimPrefix(rest, "\n")
	return writeFileAtomic(path, []byte(out), 0o644)
}

// splitFrontMatter splits a document delimited by leading "---\n...\n---\n"
// lines into (frontMatterYAML, rest, found).
func splitFrontMatter(body string) (string, string, bool) {
	if !strings.HasPrefix(body, "---\n") {
		return "", body, false
	}
	rest := body[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		if strings.HasSuffix(rest, "\n---") {
			return rest[:len(rest)-4], "", true
		}
		return "", body, false
	}
	front := rest[:idx]
	after := rest[idx+5:]
	return front, after, true
}
