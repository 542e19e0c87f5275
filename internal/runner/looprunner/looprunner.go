// Package looprunner implements the loop driver: it repeats Step until the
// root completes, a leaf gets stuck, or the configured iteration cap is
// reached, classifying those three terminal outcomes from any other
// propagated error.
package looprunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danshapiro/runnerloop/internal/runner/rerr"
	"github.com/danshapiro/runnerloop/internal/runner/selector"
	"github.com/danshapiro/runnerloop/internal/runner/step"
	"github.com/danshapiro/runnerloop/internal/runner/store"
)

// Outcome is the loop's typed terminal reason.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeStuck
	OutcomeMaxIterationsExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeStuck:
		return "stuck"
	case OutcomeMaxIterationsExceeded:
		return "max-iterations-exceeded"
	default:
		return "unknown"
	}
}

// Result is returned when the loop reaches a terminal outcome.
type Result struct {
	Outcome       Outcome
	StuckLeaf     *rerr.ErrStuckLeaf
	LastStep      step.Result
	IterationsRun uint32
}

// Run drives Step until a terminal outcome or a propagated error. Before
// each Step it performs a cheap selector pre-check against the persisted
// tree so a stuck or complete tree never launches another agent process.
func Run(ctx context.Context, d step.Deps, opts step.Options) (Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := store.NewPaths(d.Root)

	var ran uint32
	var last step.Result

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		cfg, err := store.LoadConfig(p.ConfigPath)
		if err != nil {
			return Result{}, fmt.Errorf("looprunner: load config: %w", err)
		}
		rs, err := store.LoadRunState(p.RunStatePath)
		if err != nil {
			return Result{}, fmt.Errorf("looprunner: load run state: %w", err)
		}
		if rs.NextIter > cfg.MaxIterations {
			return Result{Outcome: OutcomeMaxIterationsExceeded, LastStep: last, IterationsRun: ran}, nil
		}

		prevTree, err := store.LoadTree(p.TreePath, d.Schemas.Tree)
		if err != nil {
			return Result{}, fmt.Errorf("looprunner: load tree: %w", err)
		}
		sel := selector.Select(prevTree)
		if sel.Complete {
			return Result{Outcome: OutcomeComplete, LastStep: last, IterationsRun: ran}, nil
		}
		if sel.Stuck {
			return Result{
				Outcome: OutcomeStuck,
				StuckLeaf: &rerr.ErrStuckLeaf{
					ID: sel.Leaf.ID, Path: sel.Path,
					Attempts: sel.Leaf.Attempts, MaxAttempts: sel.Leaf.MaxAttempts,
				},
				LastStep: last, IterationsRun: ran,
			}, nil
		}

		res, err := step.Step(ctx, d, opts)
		if err != nil {
			var stuck *rerr.ErrStuckLeaf
			if errors.As(err, &stuck) {
				return Result{Outcome: OutcomeStuck, StuckLeaf: stuck, LastStep: last, IterationsRun: ran}, nil
			}
			var complete *rerr.ErrAlreadyComplete
			if errors.As(err, &complete) {
				return Result{Outcome: OutcomeComplete, LastStep: last, IterationsRun: ran}, nil
			}
			return Result{}, err
		}
		ran++
		last = res
		logger.Info("loop iteration complete", "iter", res.Iter, "node_id", res.NodeID, "status", res.Status, "guard", res.Guard)
	}
}
