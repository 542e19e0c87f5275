package store

import (
	"fmt"
	"os"
	"strings"
)

// ContextPayload is the data written into the ephemeral context directory for
// the current iteration.
type ContextPayload struct {
	Goal    string
	History string // empty if no retry history
	Failure string // empty unless the previous iteration was done+fail
}

// ContextPaths are the resolved ephemeral context file locations.
type ContextPaths struct {
	Dir         string
	GoalPath    string
	HistoryPath string
	FailurePath string
}

func contextPaths(p Paths) ContextPaths {
	return ContextPaths{
		Dir:         p.ContextDir,
		GoalPath:    p.ContextDir + "/goal.md",
		HistoryPath: p.ContextDir + "/history.md",
		FailurePath: p.ContextDir + "/failure.md",
	}
}

// WriteContext clears the context directory and writes fresh ephemeral
// context files for the current iteration. Runner-internal errors never flow
// through this function; only agent-facing goal/history/guard-failure text.
func WriteContext(p Paths, payload ContextPayload) (ContextPaths, error) {
	cp := contextPaths(p)
	if err := clearDir(cp.Dir); err != nil {
		return cp, err
	}
	if err := writeTextFile(cp.GoalPath, renderGoal(payload.Goal)); err != nil {
		return cp, err
	}
	if err := writeTextFile(cp.HistoryPath, renderOptional("History (previous attempt)", payload.History)); err != nil {
		return cp, err
	}
	if err := writeTextFile(cp.FailurePath, renderOptional("Failure (guard output)", payload.Failure)); err != nil {
		return cp, err
	}
	return cp, nil
}

func clearDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove context dir %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create context dir %s: %w", dir, err)
	}
	return nil
}

func writeTextFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func renderGoal(body string) string {
	return fmt.Sprintf("# Goal\n\n%s\n", strings.TrimSpace(body))
}

func renderOptional(title, body string) string {
	content := strings.TrimSpace(body)
	if content == "" {
		content = "None."
	}
	return fmt.Sprintf("# %s\n\n%s\n", title, content)
}
