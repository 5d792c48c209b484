package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/git"
	"github.com/cubtools/cub/internal/runloop"
	"github.com/cubtools/cub/internal/signal"
	"github.com/cubtools/cub/internal/tui"
)

// runFlags holds the per-run flag values.
type runFlags struct {
	once    bool
	task    string
	parent  string
	label   string
	harness string
	model   string
	stream  bool

	maxCostUSD    float64
	maxTokens     int64
	maxTasks      int
	maxIterations int

	perTaskTimeout time.Duration
	requireClean   bool
	mainOK         bool
}

func addRunCommand(root *cobra.Command, global *GlobalFlags) {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autonomous task loop",
		Long: `Run iterates over ready tasks: each iteration passes the clean-state
gate, selects the highest-priority ready task, composes a prompt, and
dispatches it to the configured harness. Attempts are recorded in the
ledger whether or not the harness succeeds.

The loop stops when the queue is empty, a budget is exhausted, the
circuit breaker trips, or an interrupt is received. A second interrupt
forces immediate exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd, global, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.once, "once", false, "run a single iteration and stop")
	cmd.Flags().StringVar(&flags.task, "task", "", "run only this task id")
	cmd.Flags().StringVar(&flags.parent, "parent", "", "restrict selection to descendants of this task")
	cmd.Flags().StringVar(&flags.label, "label", "", "restrict selection to tasks carrying this label")
	cmd.Flags().StringVar(&flags.harness, "harness", "", "harness to invoke (claude, codex, gemini, opencode)")
	cmd.Flags().StringVar(&flags.model, "model", "", "model override (per-task model: labels still win)")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "stream harness output")
	cmd.Flags().Float64Var(&flags.maxCostUSD, "max-cost-usd", 0, "stop after this much cumulative cost (0 = unlimited)")
	cmd.Flags().Int64Var(&flags.maxTokens, "max-tokens", 0, "stop after this many cumulative tokens (0 = unlimited)")
	cmd.Flags().IntVar(&flags.maxTasks, "max-tasks", 0, "stop after this many completed tasks (0 = unlimited)")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "stop after this many iterations (0 = unlimited)")
	cmd.Flags().DurationVar(&flags.perTaskTimeout, "per-task-timeout", 0, "timeout per harness invocation (0 = config default)")
	cmd.Flags().BoolVar(&flags.requireClean, "require-clean", false, "require a clean working tree before each iteration")
	cmd.Flags().BoolVar(&flags.mainOK, "main-ok", false, "permit running on a main/master branch")

	root.AddCommand(cmd)
}

func runLoop(cmd *cobra.Command, global *GlobalFlags, flags *runFlags) error {
	projectDir, err := resolveProjectDir(global)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Context(), projectDir)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, flags)

	if err := checkBranch(cmd.Context(), projectDir, cfg.Loop.MainOK); err != nil {
		return err
	}

	handler := signal.NewHandler(cmd.Context())
	defer handler.Stop()

	loop, err := runloop.New(projectDir, cfg, runloop.WithLoopLogger(GetLogger()))
	if err != nil {
		return err
	}

	sess, err := loop.Run(handler.Context(), buildRunOptions(cfg, flags))
	if err != nil {
		return err
	}
	printRunSummary(cmd, sess)

	if code := runloop.ExitCode(sess); code != constants.ExitOK {
		return fmt.Errorf("run %s ended: %s (%s)", sess.ID, sess.Phase, sess.StopReason)
	}
	return nil
}

// applyRunFlags folds changed flags into the loaded config. Only flags the
// user actually set override file and environment values.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) {
	if cmd.Flags().Changed("harness") {
		cfg.Harness.Name = flags.harness
	}
	if cmd.Flags().Changed("stream") {
		cfg.Harness.Stream = flags.stream
	}
	if cmd.Flags().Changed("require-clean") {
		cfg.Gate.RequireClean = flags.requireClean
	}
	if cmd.Flags().Changed("main-ok") {
		cfg.Loop.MainOK = flags.mainOK
	}
	if cmd.Flags().Changed("per-task-timeout") {
		cfg.Loop.PerTaskTimeout = flags.perTaskTimeout
	}
	if cmd.Flags().Changed("max-cost-usd") {
		cfg.Budget.MaxCostUSD = flags.maxCostUSD
	}
	if cmd.Flags().Changed("max-tokens") {
		cfg.Budget.MaxTokens = flags.maxTokens
	}
	if cmd.Flags().Changed("max-tasks") {
		cfg.Budget.MaxTasks = flags.maxTasks
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.Budget.MaxIterations = flags.maxIterations
	}
}

func buildRunOptions(cfg *config.Config, flags *runFlags) runloop.RunOptions {
	opts := runloop.RunOptions{
		Once:           flags.once,
		Harness:        cfg.Harness.Name,
		Model:          flags.model,
		Stream:         cfg.Harness.Stream,
		PerTaskTimeout: cfg.Loop.PerTaskTimeout,
	}
	opts.Filter.ID = flags.task
	opts.Filter.Parent = flags.parent
	opts.Filter.Label = flags.label
	opts.Limits.MaxCostUSD = cfg.Budget.MaxCostUSD
	opts.Limits.MaxTokens = cfg.Budget.MaxTokens
	opts.Limits.MaxTasks = cfg.Budget.MaxTasks
	opts.Limits.MaxIterations = cfg.Budget.MaxIterations
	return opts
}

// checkBranch refuses to run on main/master without explicit permission.
// Outside a git repository there is nothing to protect.
func checkBranch(ctx context.Context, projectDir string, mainOK bool) error {
	if mainOK || !git.IsRepo(ctx, projectDir) {
		return nil
	}
	branch, err := git.CurrentBranch(ctx, projectDir)
	if err != nil {
		return nil
	}
	if branch == "main" || branch == "master" {
		return fmt.Errorf("%w: on branch %q (use --main-ok to override)", cuberrors.ErrProtectedBranch, branch)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, sess *domain.RunSession) {
	styles := tui.NewOutputStyles()
	w := cmd.OutOrStdout()

	icon := tui.RunPhaseIcon(sess.Phase)
	fmt.Fprintf(w, "%s run %s %s", icon, sess.ID, sess.Phase)
	if sess.StopReason != "" {
		fmt.Fprintf(w, " (%s)", sess.StopReason)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  iterations: %d  completed: %d  cost: $%.2f  tokens: %d\n",
		len(sess.Iterations), sess.Usage.TasksCompleted, sess.Usage.CostUSD, sess.Usage.TokensUsed)
	for _, warning := range sess.Warnings {
		fmt.Fprintln(w, styles.Warning.Render("  warning: "+warning))
	}
}
