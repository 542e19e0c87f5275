// Command runner is the CLI surface for the deterministic task-tree
// orchestrator: init/start/step/loop/select/validate, each exiting with a
// machine-readable code per the external-interfaces contract.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danshapiro/runnerloop/internal/runner/agentio"
	"github.com/danshapiro/runnerloop/internal/runner/bootstrap"
	"github.com/danshapiro/runnerloop/internal/runner/looprunner"
	"github.com/danshapiro/runnerloop/internal/runner/rerr"
	"github.com/danshapiro/runnerloop/internal/runner/rlog"
	"github.com/danshapiro/runnerloop/internal/runner/selector"
	"github.com/danshapiro/runnerloop/internal/runner/step"
	"github.com/danshapiro/runnerloop/internal/runner/store"
	"github.com/danshapiro/runnerloop/internal/runner/vcs"
)

const (
	exitOK       = 0
	exitError    = 1
	exitComplete = 2
	exitStuck    = 3
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}

	logger := rlog.Default()
	var code int
	switch os.Args[1] {
	case "init":
		code = runInit(os.Args[2:])
	case "start":
		code = runStart(os.Args[2:])
	case "step":
		code = runStep(os.Args[2:], logger)
	case "loop":
		code = runLoop(os.Args[2:], logger)
	case "select":
		code = runSelect(os.Args[2:])
	case "validate":
		code = runValidate(os.Args[2:])
	default:
		usage()
		code = exitError
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  runner init [--force] [--dir <path>]")
	fmt.Fprintln(os.Stderr, "  runner start [--dir <path>]")
	fmt.Fprintln(os.Stderr, "  runner step [--dir <path>] [--prompt-budget=N] --agent <cmd> [--agent-decomposer <cmd>]")
	fmt.Fprintln(os.Stderr, "  runner loop [--dir <path>] [--prompt-budget=N] --agent <cmd> [--agent-decomposer <cmd>]")
	fmt.Fprintln(os.Stderr, "  runner select [--dir <path>]")
	fmt.Fprintln(os.Stderr, "  runner validate [--dir <path>]")
}

// parseFlags does a manual argv scan rather than a flag-package declarative
// parse, so a shared --dir/--agent set of options can be reused across
// subcommands with subcommand-specific extras.
type flags struct {
	dir             string
	force           bool
	promptBudget    int
	agentExecutor   string
	agentDecomposer string
}

func parseFlags(args []string) (flags, error) {
	f := flags{dir: "."}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--force":
			f.force = true
		case args[i] == "--dir":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--dir requires a value")
			}
			f.dir = args[i]
		case strings.HasPrefix(args[i], "--prompt-budget="):
			var n int
			if _, err := fmt.Sscanf(args[i], "--prompt-budget=%d", &n); err != nil {
				return f, fmt.Errorf("invalid --prompt-budget: %s", args[i])
			}
			f.promptBudget = n
		case args[i] == "--agent":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--agent requires a value")
			}
			f.agentExecutor = args[i]
		case args[i] == "--agent-decomposer":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--agent-decomposer requires a value")
			}
			f.agentDecomposer = args[i]
		default:
			return f, fmt.Errorf("unrecognized flag %q", args[i])
		}
	}
	return f, nil
}

func runInit(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	if err := bootstrap.Init(f.dir, f.force); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	fmt.Println("initialized workspace")
	return exitOK
}

func runStart(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	runID, err := bootstrap.Start(f.dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	fmt.Printf("run_id=%s branch=runner/%s\n", runID, runID)
	return exitOK
}

// argvLauncher builds agent subprocess argv from operator-supplied shell
// command strings, appending the tool-specific --schema/--output flags.
type argvLauncher struct {
	executor   []string
	decomposer []string
}

func (l argvLauncher) Argv(variant agentio.Variant, schemaPath, outputPath string) []string {
	base := l.executor
	if variant == agentio.VariantDecomposer && len(l.decomposer) > 0 {
		base = l.decomposer
	}
	argv := append([]string{}, base...)
	return append(argv, "--schema", schemaPath, "--output", outputPath)
}

func buildDeps(f flags, logger *slog.Logger) (step.Deps, error) {
	if f.agentExecutor == "" {
		return step.Deps{}, fmt.Errorf("--agent is required")
	}
	p := store.NewPaths(f.dir)
	schemas, err := loadSchemas(p)
	if err != nil {
		return step.Deps{}, err
	}
	decomposer := f.agentDecomposer
	var decomposerArgv []string
	if decomposer != "" {
		decomposerArgv = strings.Fields(decomposer)
	}
	return step.Deps{
		Root:    f.dir,
		Git:     vcs.New(f.dir),
		Schemas: schemas,
		Launcher: argvLauncher{
			executor:   strings.Fields(f.agentExecutor),
			decomposer: decomposerArgv,
		},
		Logger: logger,
	}, nil
}

func loadSchemas(p store.Paths) (step.Schemas, error) {
	treeJSON, err := os.ReadFile(p.SchemaPath)
	if err != nil {
		return step.Schemas{}, fmt.Errorf("read tree schema: %w", err)
	}
	treeSchema, err := store.CompileTreeSchema(string(treeJSON))
	if err != nil {
		return step.Schemas{}, err
	}
	execJSON, err := os.ReadFile(p.ExecutorSchemaPath)
	if err != nil {
		return step.Schemas{}, fmt.Errorf("read executor schema: %w", err)
	}
	execSchema, err := agentio.CompileOutputSchema(p.ExecutorSchemaPath, string(execJSON))
	if err != nil {
		return step.Schemas{}, err
	}
	decJSON, err := os.ReadFile(p.DecomposerSchemaPath)
	if err != nil {
		return step.Schemas{}, fmt.Errorf("read decomposer schema: %w", err)
	}
	decSchema, err := agentio.CompileOutputSchema(p.DecomposerSchemaPath, string(decJSON))
	if err != nil {
		return step.Schemas{}, err
	}
	return step.Schemas{Tree: treeSchema, Executor: execSchema, Decomposer: decSchema}, nil
}

func runStep(args []string, logger *slog.Logger) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	deps, err := buildDeps(f, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	ctx, cancel := signalCancelContext()
	defer cancel()

	res, err := step.Step(ctx, deps, step.Options{PromptBudgetBytes: f.promptBudget})
	if err != nil {
		var stuck *rerr.ErrStuckLeaf
		if errors.As(err, &stuck) {
			fmt.Printf("run_id= iter= node_id=%s status=stuck guard=\n", stuck.ID)
			return exitStuck
		}
		var complete *rerr.ErrAlreadyComplete
		if errors.As(err, &complete) {
			fmt.Println("tree already complete")
			return exitComplete
		}
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	fmt.Printf("run_id=%s iter=%d node_id=%s status=%s guard=%s\n", res.RunID, res.Iter, res.NodeID, res.Status, res.Guard)
	return exitOK
}

func runLoop(args []string, logger *slog.Logger) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	deps, err := buildDeps(f, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	ctx, cancel := signalCancelContext()
	defer cancel()

	res, err := looprunner.Run(ctx, deps, step.Options{PromptBudgetBytes: f.promptBudget})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	switch res.Outcome {
	case looprunner.OutcomeComplete:
		fmt.Printf("complete after %d iterations\n", res.IterationsRun)
		return exitComplete
	case looprunner.OutcomeStuck:
		fmt.Printf("stuck at %s (%s): attempts %d/%d\n", res.StuckLeaf.ID, res.StuckLeaf.Path, res.StuckLeaf.Attempts, res.StuckLeaf.MaxAttempts)
		return exitStuck
	default:
		fmt.Printf("max iterations exceeded after %d iterations\n", res.IterationsRun)
		return exitError
	}
}

func runSelect(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	p := store.NewPaths(f.dir)
	treeJSON, err := os.ReadFile(p.SchemaPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	schema, err := store.CompileTreeSchema(string(treeJSON))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	root, err := store.LoadTree(p.TreePath, schema)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	sel := selector.Select(root)
	switch {
	case sel.Complete:
		fmt.Println("complete")
		return exitComplete
	case sel.Stuck:
		fmt.Printf("stuck node_id=%s path=%s attempts=%d/%d\n", sel.Leaf.ID, sel.Path, sel.Leaf.Attempts, sel.Leaf.MaxAttempts)
		return exitStuck
	default:
		fmt.Printf("open node_id=%s path=%s\n", sel.Leaf.ID, sel.Path)
		return exitOK
	}
}

func runValidate(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	p := store.NewPaths(f.dir)
	var problems []string

	if ok, err := store.HasRequiredGitignoreLines(p.GitignorePath); err != nil || !ok {
		problems = append(problems, "gitignore is missing a required ephemeral-prefix entry")
	}
	if _, err := store.LoadConfig(p.ConfigPath); err != nil {
		problems = append(problems, fmt.Sprintf("config: %v", err))
	}
	treeJSON, err := os.ReadFile(p.SchemaPath)
	if err != nil {
		problems = append(problems, fmt.Sprintf("tree schema: %v", err))
	} else if schema, err := store.CompileTreeSchema(string(treeJSON)); err != nil {
		problems = append(problems, fmt.Sprintf("tree schema: %v", err))
	} else if _, err := store.LoadTree(p.TreePath, schema); err != nil {
		problems = append(problems, fmt.Sprintf("tree: %v", err))
	}

	rs, err := store.LoadRunState(p.RunStatePath)
	if err != nil {
		problems = append(problems, fmt.Sprintf("run state: %v", err))
	} else if rs.RunID != nil && *rs.RunID != "" {
		goalID, ok, err := store.ReadGoalID(p.GoalPath)
		if err != nil || !ok {
			problems = append(problems, "goal document has no stable id")
		} else if goalID != *rs.RunID {
			problems = append(problems, fmt.Sprintf("run identity mismatch: run_state=%q goal=%q", *rs.RunID, goalID))
		}
		if branch, err := vcs.New(f.dir).CurrentBranch(); err != nil {
			problems = append(problems, fmt.Sprintf("branch: %v", err))
		} else if branch != "runner/"+*rs.RunID {
			problems = append(problems, fmt.Sprintf("current branch %q does not match runner/%s", branch, *rs.RunID))
		}
	}

	if len(problems) > 0 {
		for _, prob := range problems {
			fmt.Fprintln(os.Stderr, prob)
		}
		return exitError
	}
	fmt.Println("ok")
	return exitOK
}
