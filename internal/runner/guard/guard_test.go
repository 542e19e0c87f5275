package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danshapiro/runnerloop/internal/runner/update"
)

func TestRunClassifiesZeroExitAsPass(t *testing.T) {
	res, err := Run(context.Background(), Request{Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != update.GuardPass {
		t.Fatalf("Outcome = %v, want pass", res.Outcome)
	}
}

func TestRunClassifiesNonZeroExitAsFail(t *testing.T) {
	res, err := Run(context.Background(), Request{Command: []string{"false"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != update.GuardFail {
		t.Fatalf("Outcome = %v, want fail", res.Outcome)
	}
}

func TestRunClassifiesTimeoutAsFail(t *testing.T) {
	res, err := Run(context.Background(), Request{
		Command: []string{"sh", "-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != update.GuardFail {
		t.Fatalf("Outcome = %v, want fail on timeout", res.Outcome)
	}
	if !strings.Contains(res.Log, "timed out") {
		t.Fatalf("expected timed-out trailer in log, got %q", res.Log)
	}
}

func TestRunLogIncludesBothStreamsAndTruncationNotice(t *testing.T) {
	res, err := Run(context.Background(), Request{
		Command:   []string{"sh", "-c", "echo out; echo err >&2"},
		OutputCap: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Log, "=== stdout ===") || !strings.Contains(res.Log, "=== stderr ===") {
		t.Fatalf("expected both stream headers in log, got %q", res.Log)
	}
	if !strings.Contains(res.Log, "truncated") {
		t.Fatalf("expected truncation notice, got %q", res.Log)
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error for empty guard command")
	}
}
