package report

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is the kind of a diff line.
type Op byte

const (
	OpEqual  Op = ' '
	OpDelete Op = '-'
	OpInsert Op = '+'
)

// DiffLine is one line of a line-level diff.
type DiffLine struct {
	Op   Op
	Text string
}

// String renders the line with its one-character prefix.
func (l DiffLine) String() string {
	if l.Op == OpEqual && l.Text == "" {
		return ""
	}
	return string(l.Op) + l.Text
}

// LineDiff compares reference and live line by line. Deleted lines come
// from reference and inserted lines from live.
func LineDiff(reference, live string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(reference, live)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out []DiffLine
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		op := OpEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, DiffLine{Op: op, Text: line})
		}
	}
	return out
}
