package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/forensics"
)

// addHookCommand installs the harness hook entry point. Harness hook
// configurations pipe every tool event through "cub hook". The command
// NEVER returns an error: a broken hook must not break the assistant
// session it observes.
func addHookCommand(root *cobra.Command, global *GlobalFlags) {
	cmd := &cobra.Command{
		Use:    "hook [event-name]",
		Short:  "Record a harness hook event (reads JSON from stdin)",
		Hidden: true,
		Args:   cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eventName := ""
			if len(args) == 1 {
				eventName = args[0]
			}
			recordHookEvent(cmd, global, eventName)
		},
	}
	root.AddCommand(cmd)
}

func recordHookEvent(cmd *cobra.Command, global *GlobalFlags, eventName string) {
	logger := GetLogger()
	if forensics.StandDown() {
		return
	}

	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	if err != nil {
		logger.Debug().Err(err).Msg("hook: stdin read failed")
		return
	}
	var env domain.HookEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Debug().Err(err).Msg("hook: malformed envelope")
		return
	}
	// An explicit argument wins over the envelope's event name; some
	// harness hook configurations only pass it on the command line.
	if eventName != "" {
		env.HookEventName = eventName
	}
	if env.SessionID == "" {
		logger.Debug().Msg("hook: envelope without session id")
		return
	}

	event, ok := forensics.Classify(&env, time.Now().UTC())
	if !ok {
		return
	}

	projectDir, err := resolveProjectDir(global)
	if err != nil {
		logger.Debug().Err(err).Msg("hook: project dir unresolved")
		return
	}
	recorder, err := forensics.NewRecorder(projectDir, forensics.WithRecorderLogger(logger))
	if err != nil {
		logger.Debug().Err(err).Msg("hook: recorder init failed")
		return
	}
	if err := recorder.Record(cmd.Context(), env.SessionID, event); err != nil {
		logger.Debug().Err(err).Msg("hook: record failed")
	}
}
