package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danshapiro/runnerloop/internal/runner/update"
)

// RunState is the per-run bookkeeping document: created by Start, updated
// atomically at the end of each iteration, never deleted.
type RunState struct {
	RunID       *string              `json:"run_id,omitempty"`
	NextIter    uint32               `json:"next_iter"`
	LastStatus  *update.AgentStatus  `json:"last_status,omitempty"`
	LastSummary *string              `json:"last_summary,omitempty"`
	LastGuard   *update.GuardOutcome `json:"last_guard,omitempty"`
}

// DefaultRunState is the RunState written by Init / a fresh run.
func DefaultRunState() *RunState {
	return &RunState{NextIter: 1}
}

// LoadRunState reads and decodes a RunState document.
func LoadRunState(path string) (*RunState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state %s: %w", path, err)
	}
	var rs RunState
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("decode run state %s: %w", path, err)
	}
	return &rs, nil
}

// WriteRunState atomically writes rs as pretty JSON with a trailing newline.
func WriteRunState(path string, rs *RunState) error {
	buf, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	buf = append(buf, '\n')
	return writeFileAtomic(path, buf, 0o644)
}
