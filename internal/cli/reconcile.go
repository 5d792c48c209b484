package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/forensics"
)

func addReconcileCommand(root *cobra.Command, global *GlobalFlags) {
	var (
		force      bool
		transcript string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile [session-id]",
		Short: "Convert forensics logs into ledger entries",
		Long: `Reconcile reads the per-session forensics event logs written by the
hook command and synthesizes ledger entries for sessions that ran
outside the loop. A session without a task claim is skipped, and an
existing entry is skipped unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(global)
			if err != nil {
				return err
			}
			rec, err := forensics.NewReconciler(projectDir, forensics.WithReconcilerLogger(GetLogger()))
			if err != nil {
				return err
			}
			opts := forensics.Options{Force: force, TranscriptPath: transcript}

			if len(args) == 1 {
				result, err := rec.Reconcile(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				printReconcileResult(cmd, result)
				return nil
			}
			if !all {
				return fmt.Errorf("provide a session id or --all")
			}
			results, err := rec.ReconcileAll(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, result := range results {
				printReconcileResult(cmd, result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reconcile even when a ledger entry exists")
	cmd.Flags().StringVar(&transcript, "transcript", "", "transcript file to scan for token usage")
	cmd.Flags().BoolVar(&all, "all", false, "reconcile every recorded session")
	root.AddCommand(cmd)
}

func printReconcileResult(cmd *cobra.Command, result forensics.Result) {
	w := cmd.OutOrStdout()
	switch {
	case result.Created:
		fmt.Fprintf(w, "%s: entry created for %s\n", result.SessionID, result.TaskID)
	case result.Skipped:
		fmt.Fprintf(w, "%s: skipped (%s)\n", result.SessionID, result.Reason)
	default:
		fmt.Fprintf(w, "%s: no action\n", result.SessionID)
	}
}
