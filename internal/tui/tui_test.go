package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/constants"
)

func TestHasColorSupport(t *testing.T) {
	t.Setenv("TERM", "xterm-256color")
	assert.True(t, HasColorSupport())

	t.Setenv("NO_COLOR", "1")
	assert.False(t, HasColorSupport())
}

func TestDumbTerminalDisablesColor(t *testing.T) {
	t.Setenv("TERM", "dumb")
	assert.False(t, HasColorSupport())
}

func TestTaskStatusIcons(t *testing.T) {
	assert.Equal(t, "○", TaskStatusIcon(constants.TaskStatusOpen))
	assert.Equal(t, "●", TaskStatusIcon(constants.TaskStatusInProgress))
	assert.Equal(t, "✓", TaskStatusIcon(constants.TaskStatusClosed))
	assert.Equal(t, "?", TaskStatusIcon(constants.TaskStatus("bogus")))
}

func TestFormatTaskStatusPlain(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, "✓ closed", FormatTaskStatus(constants.TaskStatusClosed))
}

func TestRunPhaseIcons(t *testing.T) {
	assert.Equal(t, "✓", RunPhaseIcon(constants.RunPhaseCompleted))
	assert.Equal(t, "✗", RunPhaseIcon(constants.RunPhaseFailed))
	assert.Equal(t, "◌", RunPhaseIcon(constants.RunPhaseOrphaned))
}

func TestTableRowsAligned(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	CheckNoColor()

	var buf bytes.Buffer
	tbl := NewTable(&buf, []Column{
		{Name: "ID", Width: 10},
		{Name: "COST", Width: 6, Align: AlignRight},
	})
	tbl.Header()
	tbl.Row("proj-a-1", "$0.05")
	tbl.Row("proj-a-2", "$12.00")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[2], "proj-a-1")
	// Right-aligned column pads on the left.
	assert.True(t, strings.HasSuffix(lines[2], " $0.05"))
	assert.True(t, strings.HasSuffix(lines[3], "$12.00"))
}

func TestTableTruncatesLongCells(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	tbl := NewTable(&buf, []Column{{Name: "TITLE", Width: 8}})
	tbl.Row("a very long title")

	assert.Equal(t, "a very …", strings.TrimRight(buf.String(), " \n"))
}

func TestStripANSI(t *testing.T) {
	styled := "\x1b[1mbold\x1b[0m"
	assert.Equal(t, "bold", stripANSI(styled))
	assert.Equal(t, 4, displayWidth(styled))
}
