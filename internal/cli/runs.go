package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/runloop"
	"github.com/cubtools/cub/internal/tui"
)

func addRunsCommand(root *cobra.Command, global *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded run sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listRuns(cmd, global)
		},
	}
	root.AddCommand(cmd)
}

func listRuns(cmd *cobra.Command, global *GlobalFlags) error {
	projectDir, err := resolveProjectDir(global)
	if err != nil {
		return err
	}
	mgr, err := runloop.NewSessionManager(projectDir)
	if err != nil {
		return err
	}
	ids, err := mgr.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}

	active, _ := mgr.ActiveRun()
	tbl := tui.NewTable(cmd.OutOrStdout(), []tui.Column{
		{Name: "RUN", Width: 28},
		{Name: "PHASE", Width: 14},
		{Name: "TASKS", Width: 5, Align: tui.AlignRight},
		{Name: "COST", Width: 8, Align: tui.AlignRight},
		{Name: "STOP", Width: 18},
	})
	tbl.Header()
	for _, id := range ids {
		sess, err := mgr.Load(id)
		if err != nil {
			logger := GetLogger()
			logger.Warn().Str("run_id", id).Err(err).Msg("skipping unreadable run session")
			continue
		}
		phase := tui.RunPhaseIcon(sess.Phase) + " " + string(sess.Phase)
		if id == active {
			phase += " *"
		}
		tbl.Row(
			sess.ID,
			phase,
			fmt.Sprintf("%d", sess.Usage.TasksCompleted),
			fmt.Sprintf("$%.2f", sess.Usage.CostUSD),
			string(sess.StopReason),
		)
	}
	return nil
}
