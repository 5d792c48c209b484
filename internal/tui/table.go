package tui

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

// Alignment controls column text alignment.
type Alignment int

// Column alignments.
const (
	AlignLeft Alignment = iota
	AlignRight
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table renders aligned columnar output to a writer. Styled cell content is
// padded on display width, not byte length.
type Table struct {
	w       io.Writer
	columns []Column
	styles  *OutputStyles
}

// NewTable creates a table writing to w.
func NewTable(w io.Writer, columns []Column) *Table {
	return &Table{
		w:       w,
		columns: columns,
		styles:  NewOutputStyles(),
	}
}

// Header writes the column names and a separator rule.
func (t *Table) Header() {
	cells := make([]string, len(t.columns))
	for i, col := range t.columns {
		cells[i] = pad(StyleBold.Render(col.Name), col.Width, col.Align)
	}
	fmt.Fprintln(t.w, strings.Join(cells, "  "))

	rules := make([]string, len(t.columns))
	for i, col := range t.columns {
		rules[i] = strings.Repeat("─", col.Width)
	}
	fmt.Fprintln(t.w, t.styles.Dim.Render(strings.Join(rules, "  ")))
}

// Row writes one data row. Cells beyond the column count are dropped and
// overlong cells are truncated with an ellipsis.
func (t *Table) Row(cells ...string) {
	out := make([]string, 0, len(t.columns))
	for i, col := range t.columns {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		out = append(out, pad(truncate(cell, col.Width), col.Width, col.Align))
	}
	fmt.Fprintln(t.w, strings.Join(out, "  "))
}

// TerminalWidth returns the width of the attached terminal, or the fallback
// when stdout is not a terminal.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes escape sequences so width math sees printable text only.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// displayWidth counts printable runes, ignoring ANSI sequences.
func displayWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

func pad(s string, width int, align Alignment) string {
	gap := width - displayWidth(s)
	if gap <= 0 {
		return s
	}
	fill := strings.Repeat(" ", gap)
	if align == AlignRight {
		return fill + s
	}
	return s + fill
}

// truncate shortens plain cells to fit. Cells carrying ANSI sequences are
// left alone since cutting mid-sequence corrupts output.
func truncate(s string, width int) string {
	if width <= 0 || stripANSI(s) != s {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}
