// Package cli provides the command-line interface for cub.
package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/config"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/tui"
)

// BuildInfo contains version information set at build time via ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// GlobalFlags holds flags shared by every subcommand.
type GlobalFlags struct {
	// Verbose enables debug-level logging.
	Verbose bool

	// Quiet limits logging to warnings and errors.
	Quiet bool

	// ProjectDir overrides project-root autodetection.
	ProjectDir string
}

//nolint:gochecknoglobals // CLI logger requires global access across handlers
var (
	globalLogger   zerolog.Logger
	globalLoggerMu sync.RWMutex
)

// GetLogger returns the logger initialized by the root command's
// PersistentPreRunE. Safe for concurrent use.
func GetLogger() zerolog.Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

func setGlobalLogger(logger zerolog.Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = logger
}

// resolveProjectDir returns the flag override or the autodetected root.
func resolveProjectDir(flags *GlobalFlags) (string, error) {
	if flags.ProjectDir != "" {
		return flags.ProjectDir, nil
	}
	return config.ProjectDir()
}

// newRootCmd creates the root command for the cub CLI.
func newRootCmd(flags *GlobalFlags, info BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cub",
		Short: "cub - autonomous coding task orchestrator",
		Long: `cub runs an autonomous coding loop: it selects ready tasks, composes
prompts, dispatches them to a coding harness (claude, codex, gemini,
opencode), and records every attempt in a per-task ledger.`,
		Version: formatVersion(info),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			tui.CheckNoColor()

			projectDir, err := resolveProjectDir(flags)
			if err != nil {
				return err
			}
			setGlobalLogger(InitLogger(projectDir, flags.Verbose, flags.Quiet))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "log warnings and errors only")
	cmd.PersistentFlags().StringVar(&flags.ProjectDir, "project-dir", "", "project root (default: autodetect)")

	addRunCommand(cmd, flags)
	addRunsCommand(cmd, flags)
	addTaskCommand(cmd, flags)
	cmd.AddCommand(newTaskReadyCmd(flags))
	addLedgerCommand(cmd, flags)
	addReconcileCommand(cmd, flags)
	addHookCommand(cmd, flags)

	return cmd
}

func formatVersion(info BuildInfo) string {
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "none"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
}

// Execute runs the root command with the provided context and build info.
// Known sentinel errors are translated to a user-facing message with a
// suggested action before the process exits nonzero.
func Execute(ctx context.Context, info BuildInfo) error {
	flags := &GlobalFlags{}
	cmd := newRootCmd(flags, info)
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		styles := tui.NewOutputStyles()
		fmt.Fprintln(cmd.ErrOrStderr(), styles.Error.Render("error: ")+cuberrors.UserMessage(err))
		if action := cuberrors.Actionable(err); action != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), styles.Dim.Render("  "+action))
		}
	}
	return err
}
