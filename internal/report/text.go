// Package report renders run results for people and for machines: a text
// report with coloured labels and a line diff per mismatch, and JSON.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/verify"
)

// FailureHeader opens every cell failure report.
const FailureHeader = "Notebook cell execution failed"

// DiffHeader introduces the line diff that follows a mismatch block.
const DiffHeader = "Diff (-reference +live):"

type role int

const (
	rolePlain role = iota
	roleFail
	rolePass
	roleInfo
	roleFaint
	roleDelete
	roleInsert
)

// line is one report line and the role used to colour it. Lines may span
// several physical lines only when their role is rolePlain.
type line struct {
	role role
	text string
}

type palette map[role]lipgloss.Style

func newPalette(r *lipgloss.Renderer) palette {
	return palette{
		roleFail:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		rolePass:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		roleInfo:   r.NewStyle().Foreground(lipgloss.Color("12")),
		roleFaint:  r.NewStyle().Faint(true),
		roleDelete: r.NewStyle().Foreground(lipgloss.Color("1")),
		roleInsert: r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// Text writes a human-readable run report. It implements runner.Reporter.
type Text struct {
	w       io.Writer
	verbose bool
	color   bool
	styles  palette
}

// TextOption configures a Text reporter.
type TextOption func(*Text)

// WithVerbose prints one line per cell instead of one line per notebook.
func WithVerbose(v bool) TextOption {
	return func(t *Text) {
		t.verbose = v
	}
}

// WithColor forces colour on or off. By default colour is used only when w
// is a terminal.
func WithColor(c bool) TextOption {
	return func(t *Text) {
		t.color = c
	}
}

// NewText creates a Text reporter writing to w.
func NewText(w io.Writer, opts ...TextOption) *Text {
	r := lipgloss.NewRenderer(w)
	t := &Text{
		w:      w,
		color:  r.ColorProfile() != termenv.Ascii,
		styles: newPalette(r),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Text) paint(l line) string {
	if !t.color || l.role == rolePlain {
		return l.text
	}
	return t.styles[l.role].Render(l.text)
}

func (t *Text) writeLines(lines []line) {
	for _, l := range lines {
		fmt.Fprintln(t.w, t.paint(l))
	}
}

// NotebookStarted implements runner.Reporter.
func (t *Text) NotebookStarted(path string, items int) {
	if t.verbose {
		t.writeLines([]line{{roleFaint, fmt.Sprintf("%s: %d cells", path, items)}})
	}
}

// ItemFinished implements runner.Reporter.
func (t *Text) ItemFinished(result runner.ItemResult) {
	if !t.verbose {
		return
	}
	label := line{role: outcomeRole(result.Outcome), text: outcomeLabel(result.Outcome)}
	fmt.Fprintf(t.w, "%s %s::%s\n", t.paint(label), result.Item.Notebook, result.Item.Name)
}

// NotebookFinished implements runner.Reporter. Outside verbose mode it
// prints the notebook path followed by one mark per cell.
func (t *Text) NotebookFinished(result runner.NotebookResult) {
	if t.verbose {
		if result.Err != nil {
			t.writeLines([]line{{roleFail, fmt.Sprintf("ERROR %s: %v", result.Path, result.Err)}})
		}
		return
	}
	var b strings.Builder
	b.WriteString(result.Path)
	b.WriteString(" ")
	for _, it := range result.Items {
		b.WriteString(t.paint(line{role: outcomeRole(it.Outcome), text: outcomeMark(it.Outcome)}))
	}
	if result.Err != nil && len(result.Items) == 0 {
		b.WriteString(t.paint(line{role: roleFail, text: "E"}))
	}
	fmt.Fprintln(t.w, b.String())
}

// Summary prints a section per failed or errored cell, then the summary line.
func (t *Text) Summary(s runner.Summary) {
	for _, nb := range s.Notebooks {
		if nb.Err != nil && len(nb.Items) == 0 {
			t.writeLines(section(nb.Path))
			t.writeLines([]line{{rolePlain, "internal error: " + nb.Err.Error()}})
		}
		for _, it := range nb.Items {
			if it.Outcome == runner.Passed {
				continue
			}
			t.writeLines(section(it.Item.Notebook + "::" + it.Item.Name))
			t.writeLines(itemLines(it))
		}
	}
	c := s.Counts()
	r := rolePass
	if !s.OK() {
		r = roleFail
	}
	t.writeLines([]line{{r, "=== " + SummaryLine(c) + " ==="}})
}

// Failure renders a cell execution failure as plain text.
func Failure(ce *verify.CellExecutionError) string {
	return plain(failureLines(ce))
}

// ItemReport renders the report for one item result as plain text. Passed
// items have an empty report.
func ItemReport(result runner.ItemResult) string {
	if result.Outcome == runner.Passed {
		return ""
	}
	return plain(itemLines(result))
}

// SummaryLine formats counts as "N passed, M failed, K errors".
func SummaryLine(c runner.Counts) string {
	return fmt.Sprintf("%d passed, %d failed, %d errors", c.Passed, c.Failed, c.Errored)
}

func itemLines(result runner.ItemResult) []line {
	var ce *verify.CellExecutionError
	if errors.As(result.Err, &ce) {
		return failureLines(ce)
	}
	msg := "unknown error"
	if result.Err != nil {
		msg = result.Err.Error()
	}
	return []line{{roleFail, "internal error: " + msg}}
}

func failureLines(ce *verify.CellExecutionError) []line {
	lines := []line{
		{roleFail, FailureHeader},
		{roleInfo, fmt.Sprintf("Cell %d: %s", ce.CellIndex, ce.Label)},
		{rolePlain, ""},
		{roleInfo, "Input:"},
		{rolePlain, ce.Source},
		{rolePlain, ""},
		{roleInfo, "Traceback:"},
	}
	for _, d := range ce.Diagnostics {
		lines = append(lines, diagnosticLines(d)...)
	}
	return lines
}

func diagnosticLines(d compare.Diagnostic) []line {
	if d.Kind == compare.MissingKey {
		return []line{{roleFail, d.Lines()[0]}}
	}
	lines := []line{
		{roleFail, fmt.Sprintf("mismatch '%s'", d.Field)},
		{roleInfo, compare.ReferenceMarker},
		{rolePlain, d.Reference},
		{roleInfo, compare.LiveMarker},
		{rolePlain, d.Live},
		{roleInfo, compare.EndMarker},
		{roleFaint, DiffHeader},
	}
	for _, dl := range LineDiff(d.Reference, d.Live) {
		r := rolePlain
		switch dl.Op {
		case OpDelete:
			r = roleDelete
		case OpInsert:
			r = roleInsert
		}
		lines = append(lines, line{r, dl.String()})
	}
	return lines
}

func section(title string) []line {
	return []line{{roleFaint, "___ " + title + " ___"}}
}

func plain(lines []line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.text
	}
	return strings.Join(texts, "\n")
}

func outcomeRole(o runner.Outcome) role {
	if o == runner.Passed {
		return rolePass
	}
	return roleFail
}

func outcomeLabel(o runner.Outcome) string {
	switch o {
	case runner.Passed:
		return "PASSED"
	case runner.Failed:
		return "FAILED"
	default:
		return "ERROR"
	}
}

func outcomeMark(o runner.Outcome) string {
	switch o {
	case runner.Passed:
		return "."
	case runner.Failed:
		return "F"
	default:
		return "E"
	}
}
