package store

import (
	"os"
	"sort"
	"strings"
)

// RequiredGitignoreLines are the ephemeral directory prefixes that must be
// listed in .runner/.gitignore.
var RequiredGitignoreLines = []string{"context/", "iterations/"}

// EnsureGitignore rewrites path so it contains every line in
// RequiredGitignoreLines (deduped, sorted), preserving any other entries
// already present. It only touches disk if the resulting content changed.
func EnsureGitignore(path string) error {
	var existing string
	if b, err := os.ReadFile(path); err == nil {
		existing = string(b)
	} else if !os.IsNotExist(err) {
		return err
	}

	seen := map[string]bool{}
	var lines []string
	for _, l := range strings.Split(existing, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		lines = append(lines, l)
	}
	for _, req := range RequiredGitignoreLines {
		if !seen[req] {
			seen[req] = true
			lines = append(lines, req)
		}
	}
	sort.Strings(lines)

	out := strings.Join(lines, "\n") + "\n"
	if out == existing {
		return nil
	}
	return writeFileAtomic(path, []byte(out), 0o644)
}

// HasRequiredGitignoreLines reports whether every required ephemeral prefix
// is present in the gitignore at path.
func HasRequiredGitignoreLines(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	present := map[string]bool{}
	for _, l := range strings.Split(string(b), "\n") {
		present[strings.TrimSpace(l)] = true
	}
	for _, req := range RequiredGitignoreLines {
		if !present[req] {
			return false, nil
		}
	}
	return true, nil
}
