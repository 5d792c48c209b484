package errors

import "errors"

// ErrorInfo holds a user-facing message and suggested action for an error.
type ErrorInfo struct {
	// Message is the user-friendly error description.
	Message string
	// Action is a suggested action to resolve the issue (empty if none).
	Action string
}

// errorEntry pairs a sentinel error with its user-facing info.
type errorEntry struct {
	err  error
	info ErrorInfo
}

// errorInfoEntries is the pre-built mapping of sentinel errors to their
// user-facing messages. Using a slice (not a map) because errors.Is()
// requires proper error chain traversal.
//
//nolint:gochecknoglobals // Pre-built mapping for efficiency
var errorInfoEntries = []errorEntry{
	{
		err: ErrHarnessMissing,
		info: ErrorInfo{
			Message: "The harness CLI was not found on PATH.",
			Action:  "Install the assistant CLI or select a different harness with --harness.",
		},
	},
	{
		err: ErrHarnessAuth,
		info: ErrorInfo{
			Message: "The harness rejected its credentials.",
			Action:  "Check the API key environment variable for the selected harness.",
		},
	},
	{
		err: ErrNestedRun,
		info: ErrorInfo{
			Message: "A cub run loop is already active in this environment.",
			Action:  "Finish or stop the parent loop before starting another.",
		},
	},
	{
		err: ErrProtectedBranch,
		info: ErrorInfo{
			Message: "Refusing to run the loop on main/master.",
			Action:  "Switch to a work branch, or pass --main-ok to override.",
		},
	},
	{
		err: ErrPrecheckFailed,
		info: ErrorInfo{
			Message: "A clean-state precheck failed before the iteration.",
			Action:  "Commit or stash local changes, or disable the failing check.",
		},
	},
	{
		err: ErrLedgerCorrupt,
		info: ErrorInfo{
			Message: "The ledger index could not be read.",
			Action:  "The index is rebuilt automatically; re-run the command.",
		},
	},
	{
		err: ErrTaskNotFound,
		info: ErrorInfo{
			Message: "The requested task does not exist.",
			Action:  "Run 'cub ready' to list selectable tasks.",
		},
	},
	{
		err: ErrLockTimeout,
		info: ErrorInfo{
			Message: "Could not acquire a file lock; another cub process may be active.",
			Action:  "Wait for the other process to finish, or remove a stale lock file.",
		},
	},
}

// UserMessage returns a user-friendly message for a known sentinel error.
// Falls back to the raw error string for unrecognized errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info.Message
		}
	}
	return err.Error()
}

// Actionable returns the suggested action for a known sentinel error,
// or an empty string when there is none.
func Actionable(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info.Action
		}
	}
	return ""
}
