package procrun

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesExitCodeAndStdout(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo hello; exit 3"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(string(res.Stdout)) != "hello" {
		t.Fatalf("Stdout = %q, want hello", res.Stdout)
	}
	if res.TimedOut {
		t.Fatalf("unexpected TimedOut=true")
	}
}

func TestRunCapturesStderrSeparately(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Fatalf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("Stderr = %q", res.Stderr)
	}
}

func TestRunTimesOutLongRunningCommand(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "sleep 5"}, Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut=true")
	}
}

func TestRunTruncatesOutputPastCap(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "printf '0123456789'"}, Options{OutputCap: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) != 5 {
		t.Fatalf("Stdout len = %d, want 5", len(res.Stdout))
	}
	if !res.StdoutTrunc {
		t.Fatalf("expected StdoutTrunc=true")
	}
}

func TestRunDoesNotTruncateOutputExactlyAtCap(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "printf '01234'"}, Options{OutputCap: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) != 5 {
		t.Fatalf("Stdout len = %d, want 5", len(res.Stdout))
	}
	if res.StdoutTrunc {
		t.Fatalf("expected StdoutTrunc=false at exactly the cap")
	}
}

func TestRunFeedsStdin(t *testing.T) {
	res, err := Run(context.Background(), []string{"cat"}, Options{Stdin: []byte("piped input")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != "piped input" {
		t.Fatalf("Stdout = %q, want piped input", res.Stdout)
	}
}

func TestRunDrainsLargeOutputWithoutDeadlock(t *testing.T) {
	// A command producing output larger than typical pipe buffers (64KiB) on
	// both streams must not deadlock: stdio is drained concurrently with Wait.
	res, err := Run(context.Background(), []string{"sh", "-c",
		"yes x | head -c 200000; yes y | head -c 200000 >&2"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) != 200000 {
		t.Fatalf("Stdout len = %d, want 200000", len(res.Stdout))
	}
	if len(res.Stderr) != 200000 {
		t.Fatalf("Stderr len = %d, want 200000", len(res.Stderr))
	}
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	if _, err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error for empty argv")
	}
}
