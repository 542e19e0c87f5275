package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danshapiro/runnerloop/internal/runner/tree"
	"github.com/danshapiro/runnerloop/internal/runner/update"
)

// IterationMeta is the JSON document written as meta.json for an iteration.
type IterationMeta struct {
	RunID      string              `json:"run_id"`
	Iter       uint32              `json:"iter"`
	NodeID     string              `json:"node_id"`
	Status     update.AgentStatus  `json:"status"`
	Guard      update.GuardOutcome `json:"guard"`
	CallID     string              `json:"call_id,omitempty"`
	StartedAt  string              `json:"started_at,omitempty"`
	EndedAt    string              `json:"ended_at,omitempty"`
	DurationMS int64               `json:"duration_ms,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// AgentOutput is the structured output an executor agent writes to disk.
type AgentOutput struct {
	Status  update.AgentStatus `json:"status"`
	Summary string             `json:"summary"`
}

// IterationPaths are the resolved durable artifact locations for one
// iteration of one run.
type IterationPaths struct {
	Dir            string
	MetaPath       string
	OutputPath     string
	GuardLogPath   string
	TreeBeforePath string
	TreeAfterPath  string
	TranscriptPath string
}

// NewIterationPaths resolves the artifact directory for (runID, iter) under
// the workspace's iterations/ tree.
func NewIterationPaths(p Paths, runID string, iter uint32) IterationPaths {
	dir := filepath.Join(p.IterationsDir, runID, strconv.FormatUint(uint64(iter), 10))
	return IterationPaths{
		Dir:            dir,
		MetaPath:       filepath.Join(dir, "meta.json"),
		OutputPath:     filepath.Join(dir, "output.json"),
		GuardLogPath:   filepath.Join(dir, "guard.log"),
		TreeBeforePath: filepath.Join(dir, "tree.before.json"),
		TreeAfterPath:  filepath.Join(dir, "tree.after.json"),
		TranscriptPath: filepath.Join(dir, "transcript.log"),
	}
}

// IterationWriteRequest bundles everything needed to write one iteration's
// durable artifacts. Output holds whatever structured value the agent
// actually produced (AgentOutput for the executor variant, a decomposer
// output for the decomposer variant) so the artifact on disk mirrors what
// the agent wrote, not a lossy re-projection of it.
type IterationWriteRequest struct {
	RunID      string
	Iter       uint32
	Meta       *IterationMeta
	Output     any
	GuardLog   string // empty if guard did not run
	Transcript string // empty if nothing to record
	TreeBefore *tree.Node
	TreeAfter  *tree.Node
}

// WriteIteration writes meta, output, guard log, and before/after tree
// snapshots into iterations/<run_id>/<iter>/, in deterministic order.
func WriteIteration(p Paths, req IterationWriteRequest) (IterationPaths, error) {
	paths := NewIterationPaths(p, req.RunID, req.Iter)
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return paths, fmt.Errorf("create iteration dir %s: %w", paths.Dir, err)
	}

	if err := writeJSON(paths.MetaPath, req.Meta); err != nil {
		return paths, err
	}
	if req.Output != nil {
		if err := writeJSON(paths.OutputPath, req.Output); err != nil {
			return paths, err
		}
	}
	if req.GuardLog != "" {
		if err := writeTextFile(paths.GuardLogPath, req.GuardLog); err != nil {
			return paths, err
		}
	}
	if req.Transcript != "" {
		if err := writeTextFile(paths.TranscriptPath, req.Transcript); err != nil {
			return paths, err
		}
	}
	if req.TreeBefore != nil {
		if err := writeTreeSnapshot(paths.TreeBeforePath, req.TreeBefore); err != nil {
			return paths, err
		}
	}
	if req.TreeAfter != nil {
		if err := writeTreeSnapshot(paths.TreeAfterPath, req.TreeAfter); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func writeJSON(path string, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	buf = append(buf, '\n')
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeTreeSnapshot(path string, n *tree.Node) error {
	cloned := n.Clone()
	cloned.Canonicalize()
	return writeJSON(path, cloned)
}
