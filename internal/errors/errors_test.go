package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "context"))
	})

	t.Run("preserves sentinel in chain", func(t *testing.T) {
		err := Wrap(ErrTaskNotFound, "looking up cub-001-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.Contains(t, err.Error(), "looking up cub-001-1")
	})
}

func TestWrapf(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.NoError(t, Wrapf(nil, "task %s", "cub-001-1"))
	})

	t.Run("formats message", func(t *testing.T) {
		err := Wrapf(ErrClaimRace, "claiming %s", "cub-001-2")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrClaimRace)
		assert.Contains(t, err.Error(), "claiming cub-001-2")
	})
}

func TestUserMessage(t *testing.T) {
	t.Run("known sentinel", func(t *testing.T) {
		msg := UserMessage(Wrap(ErrHarnessMissing, "invoking claude"))
		assert.Contains(t, msg, "not found on PATH")
	})

	t.Run("unknown error falls back to error string", func(t *testing.T) {
		err := stderrors.New("something odd")
		assert.Equal(t, "something odd", UserMessage(err))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Empty(t, UserMessage(nil))
	})
}

func TestActionable(t *testing.T) {
	assert.NotEmpty(t, Actionable(ErrProtectedBranch))
	assert.Empty(t, Actionable(stderrors.New("unmapped")))
}
