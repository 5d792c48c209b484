package task

import (
	"regexp"

	"github.com/cubtools/cub/internal/errors"
)

// taskIDRegex is the external task-id contract: {project}-{epic}[-{task}]
// where project starts with a letter, epic is alphanumeric, and the
// optional task number may carry a dotted suffix (e.g. cub-048a-5.4).
// Epic-only ids omit the third component.
var taskIDRegex = regexp.MustCompile(`^[a-z][a-z0-9]*-[a-z0-9]+(-[0-9]+(\.[0-9]+)?)?$`)

// ValidateID checks a task id against the required format. Every id
// produced by the system must pass; ids failing the check are rejected at
// create time.
func ValidateID(id string) error {
	if id == "" {
		return errors.Wrap(errors.ErrInvalidTaskID, "id is empty")
	}
	if !taskIDRegex.MatchString(id) {
		return errors.Wrapf(errors.ErrInvalidTaskID, "%q does not match {project}-{epic}-{task}", id)
	}
	return nil
}

// IsEpicID reports whether the id has no task component (two segments).
func IsEpicID(id string) bool {
	if taskIDRegex.MatchString(id) {
		sub := taskIDRegex.FindStringSubmatch(id)
		return sub[1] == ""
	}
	return false
}
