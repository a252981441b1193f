package notebook

import "strings"

// Source prefixes that exclude a code cell from execution and verification.
var skipPrefixes = []string{
	"%%",
	"# PYTEST_VALIDATE_IGNORE_OUTPUT",
	"#PYTEST_VALIDATE_IGNORE_OUTPUT",
}

// CodeCell is a code cell selected for verification.
type CodeCell struct {
	// Index is the zero-based position among selected code cells. Skipped
	// code cells and non-code cells do not consume an index.
	Index int
	Cell
}

// Skipped reports whether source opens with a cell magic or an ignore marker.
func Skipped(source string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

// CodeCells returns the verifiable code cells in notebook order.
func (nb *Notebook) CodeCells() []CodeCell {
	var cells []CodeCell
	for _, c := range nb.Cells {
		if c.Type != TypeCode || Skipped(c.Source) {
			continue
		}
		cells = append(cells, CodeCell{Index: len(cells), Cell: c})
	}
	return cells
}

// Counts summarizes a notebook's cells.
type Counts struct {
	Code    int
	Skipped int
	NonCode int
}

// Counts tallies cells by how verification treats them.
func (nb *Notebook) Counts() Counts {
	var n Counts
	for _, c := range nb.Cells {
		switch {
		case c.Type != TypeCode:
			n.NonCode++
		case Skipped(c.Source):
			n.Skipped++
		default:
			n.Code++
		}
	}
	return n
}
