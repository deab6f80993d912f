package report

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

var (
	colorGreen = lipgloss.Color("#10b981")
	colorRed   = lipgloss.Color("#f43f5e")
	colorAmber = lipgloss.Color("#f59e0b")
	colorMuted = lipgloss.Color("#78716c")
)

// isTerminal checks if the writer is a TTY (for color support).
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// PrintTable writes a step table for r to w. Colours are used only when w is
// a terminal.
func PrintTable(w io.Writer, r *Report) {
	tty := isTerminal(w)

	title := fmt.Sprintf("%s  [%s]", r.Name, r.Status)
	if tty {
		title = lipgloss.NewStyle().Foreground(colorAmber).Bold(true).Render(r.Name) + "  " + colorStatus(r.Status)
	}
	fmt.Fprintln(w, title)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(tableStyle(tty))
	t.AppendHeader(table.Row{"#", "Step", "Action", "Tool", "Status"})

	if p := r.Precondition; p != nil {
		t.AppendRow(table.Row{"-", p.RawText, p.Action, "", statusCell(p.Status, tty)})
	}
	for _, s := range r.Steps {
		t.AppendRow(table.Row{s.Index, s.RawText, s.Action, s.ToolHint, statusCell(s.Status, tty)})
	}
	for _, v := range r.Verifications {
		t.AppendRow(table.Row{"V", v.Text, "verify", "", statusCell(v.Status, tty)})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d passed", r.Summary.Passed, r.Summary.Total), "", "", r.Status})
	t.Render()

	if r.Failure != nil {
		fmt.Fprintf(w, "failure: %s (%s)\n", r.Failure.Message, r.Failure.Code)
	}
}

func statusCell(s Status, tty bool) string {
	if !tty {
		return string(s)
	}
	return colorStatus(s)
}

// colorStatus applies color to a status.
func colorStatus(s Status) string {
	var style lipgloss.Style
	switch s {
	case StatusPassed:
		style = lipgloss.NewStyle().Foreground(colorGreen)
	case StatusFailed:
		style = lipgloss.NewStyle().Foreground(colorRed)
	case StatusRunning:
		style = lipgloss.NewStyle().Foreground(colorAmber)
	default:
		style = lipgloss.NewStyle().Foreground(colorMuted)
	}
	return style.Render(string(s))
}

func tableStyle(tty bool) table.Style {
	style := table.StyleRounded
	if tty {
		style.Color.Header = text.Colors{text.FgHiYellow, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}
