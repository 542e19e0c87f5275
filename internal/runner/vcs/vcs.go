// Package vcs is a thin wrapper over git adapted from the runner's own
// engine/gitutil conventions, generalized to the branch policy, clean
// -worktree allow-listing, and run-identity handshake this orchestrator
// needs.
package vcs

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CommandError wraps a failed git invocation with its captured streams.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Git operates on the repository at Dir.
type Git struct {
	Dir string
}

func New(dir string) *Git { return &Git{Dir: dir} }

func (g *Git) run(args ...string) (string, string, error) {
	// Disable git's background auto-maintenance to keep iteration commits
	// deterministic and avoid spawning long-running helper processes during
	// frequent checkpoint commits.
	base := []string{"-C", g.Dir, "-c", "maintenance.auto=0", "-c", "gc.auto=0"}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr, errStr := stdout.String(), stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// CurrentBranch returns the checked-out branch name, rejecting detached HEAD.
func (g *Git) CurrentBranch() (string, error) {
	out, _, err := g.run("symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("detached HEAD (or not on a branch): %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HeadShortSHA returns the abbreviated HEAD commit id of the given length.
func (g *Git) HeadShortSHA(length int) (string, error) {
	out, _, err := g.run("rev-parse", fmt.Sprintf("--short=%d", length), "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// StatusEntry is one parsed line of `git status --porcelain`.
type StatusEntry struct {
	Code string
	Path string
}

// StatusPorcelain returns the parsed porcelain status, using the new path for
// rename entries.
func (g *Git) StatusPorcelain() ([]StatusEntry, error) {
	out, _, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var entries []StatusEntry
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		rest := line[3:]
		path := rest
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			path = rest[idx+4:]
		}
		entries = append(entries, StatusEntry{Code: code, Path: path})
	}
	return entries, nil
}

// IsClean reports whether the worktree has no changes at all.
func (g *Git) IsClean() (bool, error) {
	entries, err := g.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// EnsureCleanExceptPrefixes returns an error if any changed path neither
// starts with nor glob-matches one of the given allow-list patterns.
func (g *Git) EnsureCleanExceptPrefixes(patterns []string) error {
	entries, err := g.StatusPorcelain()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if matchesAny(e.Path, patterns) {
			continue
		}
		return fmt.Errorf("worktree has non-allow-listed change: %s %s", e.Code, e.Path)
	}
	return nil
}

func matchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(path, p) {
			return true
		}
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// BranchExists reports whether the local branch exists.
func (g *Git) BranchExists(branch string) (bool, error) {
	_, _, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckoutNewBranch creates and switches to a new branch from the current HEAD.
func (g *Git) CheckoutNewBranch(branch string) error {
	_, _, err := g.run("checkout", "-b", branch)
	return err
}

// CheckoutBranch switches to an existing branch.
func (g *Git) CheckoutBranch(branch string) error {
	_, _, err := g.run("checkout", branch)
	return err
}

// AddAll stages every change in the worktree.
func (g *Git) AddAll() error {
	_, _, err := g.run("add", "-A")
	return err
}

// HasStagedChanges reports whether anything is currently staged.
func (g *Git) HasStagedChanges() (bool, error) {
	_, _, err := g.run("diff", "--cached", "--quiet")
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// CommitStaged commits whatever is staged with message, falling back to an
// explicit committer identity if the repo has none configured. It is
// idempotent: if nothing is staged, it returns ("", nil) without committing.
func (g *Git) CommitStaged(message string) (string, error) {
	staged, err := g.HasStagedChanges()
	if err != nil {
		return "", err
	}
	if !staged {
		return "", nil
	}
	_, _, err = g.run("commit", "-m", message)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Author identity unknown") ||
			strings.Contains(msg, "Please tell me who you are") ||
			strings.Contains(msg, "unable to auto-detect email address") {
			_, _, err = g.run(
				"-c", "user.name=runner-bot",
				"-c", "user.email=runner-bot@local",
				"commit", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return g.HeadShortSHA(40)
}
