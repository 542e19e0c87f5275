// Package rlog is the runner's structured logging setup: a single
// log/slog logger carrying contextual key-value fields (run id, iteration,
// node id) attached once per long-lived component rather than threaded
// through ad hoc fmt.Println calls.
package rlog

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text-handler logger writing to w (os.Stderr in production,
// a buffer in tests) at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Default is the process-wide logger used by the CLI entry points.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelInfo)
}

// ForRun returns a logger with run_id bound as a persistent field.
func ForRun(base *slog.Logger, runID string) *slog.Logger {
	return base.With("run_id", runID)
}

// ForIteration returns a logger with iter and node_id bound as persistent
// fields, derived from a run-scoped logger.
func ForIteration(runLogger *slog.Logger, iter uint32, nodeID string) *slog.Logger {
	return runLogger.With("iter", iter, "node_id", nodeID)
}
