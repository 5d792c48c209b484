package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/ledger"
	"github.com/cubtools/cub/internal/tui"
)

func addLedgerCommand(root *cobra.Command, global *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the per-task ledger",
	}
	cmd.AddCommand(
		newLedgerShowCmd(global),
		newLedgerRecentCmd(global),
		newLedgerStatsCmd(global),
		newLedgerSearchCmd(global),
		newLedgerVerifyCmd(global),
	)
	root.AddCommand(cmd)
}

func openReader(global *GlobalFlags) (*ledger.Reader, error) {
	projectDir, err := resolveProjectDir(global)
	if err != nil {
		return nil, err
	}
	return ledger.NewReader(projectDir, ledger.WithReaderLogger(GetLogger()))
}

func newLedgerShowCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the full ledger entry for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := openReader(global)
			if err != nil {
				return err
			}
			entry, err := reader.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEntry(cmd, entry)
			return nil
		},
	}
}

func newLedgerRecentCmd(global *GlobalFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently updated ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader, err := openReader(global)
			if err != nil {
				return err
			}
			records, err := reader.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}
			printIndexTable(cmd, records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "maximum entries to list")
	return cmd
}

func newLedgerStatsCmd(global *GlobalFlags) *cobra.Command {
	var (
		epicID string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize ledger totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader, err := openReader(global)
			if err != nil {
				return err
			}
			stats, err := reader.Stats(cmd.Context(), ledger.StatsFilter{EpicID: epicID, RunID: runID})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "entries:    %d\n", stats.Entries)
			fmt.Fprintf(w, "finalized:  %d\n", stats.Finalized)
			fmt.Fprintf(w, "succeeded:  %d\n", stats.Succeeded)
			fmt.Fprintf(w, "epics:      %d\n", stats.Epics)
			fmt.Fprintf(w, "attempts:   %d\n", stats.TotalAttempts)
			fmt.Fprintf(w, "total cost: $%.2f\n", stats.TotalCostUSD)
			return nil
		},
	}
	cmd.Flags().StringVar(&epicID, "epic", "", "restrict to one epic")
	cmd.Flags().StringVar(&runID, "run", "", "restrict to one run session")
	return cmd
}

func newLedgerSearchCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search ledger entries by id and title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := openReader(global)
			if err != nil {
				return err
			}
			records, err := reader.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printIndexTable(cmd, records)
			return nil
		},
	}
}

func newLedgerVerifyCmd(global *GlobalFlags) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Rebuild the ledger index from entry files",
		Long: `Verify rebuilds the fast-lookup index by walking every entry file.
The entry files are the source of truth; a stale or corrupt index is
always recoverable this way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !fix {
				fmt.Fprintln(cmd.OutOrStdout(), "pass --fix to rebuild the index")
				return nil
			}
			projectDir, err := resolveProjectDir(global)
			if err != nil {
				return err
			}
			writer, err := ledger.NewWriter(projectDir, ledger.WithWriterLogger(GetLogger()))
			if err != nil {
				return err
			}
			if err := writer.RebuildIndex(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "index rebuilt")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rebuild the index")
	return cmd
}

func printIndexTable(cmd *cobra.Command, records []ledger.IndexRecord) {
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no entries")
		return
	}
	tbl := tui.NewTable(cmd.OutOrStdout(), []tui.Column{
		{Name: "ID", Width: 16},
		{Name: "KIND", Width: 5},
		{Name: "ATT", Width: 3, Align: tui.AlignRight},
		{Name: "DONE", Width: 4},
		{Name: "COST", Width: 8, Align: tui.AlignRight},
		{Name: "TITLE", Width: 36},
	})
	tbl.Header()
	for _, rec := range records {
		done := ""
		if rec.Finalized {
			done = "yes"
			if !rec.Success {
				done = "fail"
			}
		}
		tbl.Row(
			rec.ID,
			rec.Kind,
			fmt.Sprintf("%d", rec.Attempts),
			done,
			fmt.Sprintf("$%.2f", rec.CostUSD),
			rec.Title,
		)
	}
}

func printEntry(cmd *cobra.Command, entry *domain.LedgerEntry) {
	w := cmd.OutOrStdout()
	styles := tui.NewOutputStyles()

	fmt.Fprintf(w, "%s %s\n", tui.StyleBold.Render(entry.ID), entry.Task.Title)
	fmt.Fprintf(w, "  source: %s  attempts: %d", entry.Source, len(entry.Attempts))
	if entry.Workflow != "" {
		fmt.Fprintf(w, "  workflow: %s", entry.Workflow)
	}
	fmt.Fprintln(w)

	for _, a := range entry.Attempts {
		status := styles.Success.Render("ok")
		if !a.Success {
			status = styles.Error.Render(string(a.ErrorCategory))
		}
		fmt.Fprintf(w, "  #%d %s %s/%s $%.2f %.0fs", a.Number, status, a.Harness, a.Model, a.CostUSD, a.DurationS)
		if a.ErrorSummary != "" {
			fmt.Fprintf(w, "  %s", a.ErrorSummary)
		}
		fmt.Fprintln(w)
	}

	if entry.Outcome != nil {
		o := entry.Outcome
		verdict := styles.Success.Render("success")
		if !o.Success {
			verdict = styles.Error.Render("failure")
		}
		fmt.Fprintf(w, "  outcome: %s  cost: $%.2f  model: %s\n", verdict, o.TotalCostUSD, o.FinalModel)
		if len(o.FilesChanged) > 0 {
			fmt.Fprintf(w, "  files: %s\n", strings.Join(o.FilesChanged, ", "))
		}
		if len(o.Commits) > 0 {
			fmt.Fprintf(w, "  commits: %s\n", strings.Join(o.Commits, ", "))
		}
	}
	if entry.Verification != nil {
		fmt.Fprintf(w, "  verification: %s\n", entry.Verification.Status)
	}
}
