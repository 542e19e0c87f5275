package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// GuardConfig holds the guard command argv.
type GuardConfig struct {
	Command []string `toml:"command"`
}

// RunnerConfig holds the operator-tunable knobs enumerated in the on-disk
// contract: default max_attempts, per-iteration wall-clock budget, output
// truncation limits, the guard command, and the loop's iteration cap.
type RunnerConfig struct {
	MaxAttemptsDefault       uint32      `toml:"max_attempts_default"`
	IterationTimeoutSecs     uint64      `toml:"iteration_timeout_secs"`
	ExecutorOutputLimitBytes uint64      `toml:"executor_output_limit_bytes"`
	GuardOutputLimitBytes    uint64      `toml:"guard_output_limit_bytes"`
	MaxIterations            uint32      `toml:"max_iterations"`
	Guard                    GuardConfig `toml:"guard"`
}

const (
	defaultMaxAttempts         = 3
	defaultIterationTimeoutSec = 600
	defaultExecutorOutputLimit = 1 << 20 // 1 MiB
	defaultGuardOutputLimit    = 1 << 20
	defaultMaxIterations       = 200
)

// DefaultConfig returns the config written by Init.
func DefaultConfig() *RunnerConfig {
	return &RunnerConfig{
		MaxAttemptsDefault:       defaultMaxAttempts,
		IterationTimeoutSecs:     defaultIterationTimeoutSec,
		ExecutorOutputLimitBytes: defaultExecutorOutputLimit,
		GuardOutputLimitBytes:    defaultGuardOutputLimit,
		MaxIterations:            defaultMaxIterations,
		Guard:                    GuardConfig{Command: []string{"just", "ci"}},
	}
}

// LoadConfig reads, strict-decodes (unknown keys rejected), defaults, and
// validates a RunnerConfig from TOML.
func LoadConfig(path string) (*RunnerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg RunnerConfig
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteConfig atomically writes cfg as TOML.
func WriteConfig(path string, cfg *RunnerConfig) error {
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, buf, 0o644)
}

func applyConfigDefaults(cfg *RunnerConfig) {
	if cfg.MaxAttemptsDefault == 0 {
		cfg.MaxAttemptsDefault = defaultMaxAttempts
	}
	if cfg.IterationTimeoutSecs == 0 {
		cfg.IterationTimeoutSecs = defaultIterationTimeoutSec
	}
	if cfg.ExecutorOutputLimitBytes == 0 {
		cfg.ExecutorOutputLimitBytes = defaultExecutorOutputLimit
	}
	if cfg.GuardOutputLimitBytes == 0 {
		cfg.GuardOutputLimitBytes = defaultGuardOutputLimit
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
}

func validateConfig(cfg *RunnerConfig) error {
	if cfg.MaxAttemptsDefault == 0 {
		return fmt.Errorf("max_attempts_default must be > 0")
	}
	if len(cfg.Guard.Command) == 0 {
		return fmt.Errorf("guard.command must be a non-empty argv")
	}
	if cfg.MaxIterations == 0 {
		return fmt.Errorf("max_iterations must be > 0")
	}
	return nil
}
