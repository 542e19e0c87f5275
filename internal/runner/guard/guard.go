// Package guard implements bounded-time, bounded-output execution of the
// operator-configured verification command, and classifies its outcome.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danshapiro/runnerloop/internal/runner/procrun"
	"github.com/danshapiro/runnerloop/internal/runner/update"
)

// Request configures one guard invocation.
type Request struct {
	Command   []string
	Dir       string
	Timeout   time.Duration
	OutputCap int64
}

// Result is the outcome of a guard run plus its formatted log.
type Result struct {
	Outcome update.GuardOutcome
	Log     string
}

// Run executes the configured guard command and classifies it: pass iff
// exit zero within the timeout, fail otherwise (non-zero exit, signal, or
// timeout). It never returns GuardSkipped: that classification belongs to
// the orchestrator, which only calls Run when the agent's status is `done`.
func Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Command) == 0 {
		return Result{}, fmt.Errorf("guard: empty command")
	}

	res, err := procrun.Run(ctx, req.Command, procrun.Options{
		Dir:       req.Dir,
		OutputCap: req.OutputCap,
		Timeout:   req.Timeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("guard: %w", err)
	}

	outcome := update.GuardFail
	if !res.TimedOut && res.ExitCode == 0 {
		outcome = update.GuardPass
	}

	return Result{Outcome: outcome, Log: formatLog(req, res)}, nil
}

func formatLog(req Request, res procrun.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", strings.Join(req.Command, " "))
	b.WriteString("=== stdout ===\n")
	b.Write(res.Stdout)
	if res.StdoutTrunc {
		b.WriteString("\n[stdout truncated]\n")
	}
	b.WriteString("\n=== stderr ===\n")
	b.Write(res.Stderr)
	if res.StderrTrunc {
		b.WriteString("\n[stderr truncated]\n")
	}
	if res.TimedOut {
		fmt.Fprintf(&b, "\n[timed out after %s]\n", req.Timeout)
	} else {
		fmt.Fprintf(&b, "\n[exit code %d in %s]\n", res.ExitCode, res.Duration)
	}
	return b.String()
}
