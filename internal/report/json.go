package report

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/verify"
)

// JSONReport is the machine-readable form of a run.
type JSONReport struct {
	Notebooks []JSONNotebook `json:"notebooks"`
	Summary   runner.Counts  `json:"summary"`
	OK        bool           `json:"ok"`
}

// JSONNotebook is one notebook's entry in a JSONReport.
type JSONNotebook struct {
	Path  string     `json:"path"`
	Error string     `json:"error,omitempty"`
	Cells []JSONCell `json:"cells"`
}

// JSONCell is one verified cell's entry in a JSONReport.
type JSONCell struct {
	Index       int                  `json:"index"`
	Name        string               `json:"name"`
	Outcome     runner.Outcome       `json:"outcome"`
	DurationMS  int64                `json:"duration_ms"`
	Error       string               `json:"error,omitempty"`
	Code        string               `json:"code,omitempty"`
	Diagnostics []compare.Diagnostic `json:"diagnostics,omitempty"`
}

// NewJSONReport converts a run summary.
func NewJSONReport(s runner.Summary) JSONReport {
	out := JSONReport{
		Notebooks: make([]JSONNotebook, 0, len(s.Notebooks)),
		Summary:   s.Counts(),
		OK:        s.OK(),
	}
	for _, nb := range s.Notebooks {
		entry := JSONNotebook{Path: nb.Path, Cells: make([]JSONCell, 0, len(nb.Items))}
		if nb.Err != nil {
			entry.Error = nb.Err.Error()
		}
		for _, it := range nb.Items {
			entry.Cells = append(entry.Cells, jsonCell(it))
		}
		out.Notebooks = append(out.Notebooks, entry)
	}
	return out
}

func jsonCell(it runner.ItemResult) JSONCell {
	cell := JSONCell{
		Index:      it.Item.Cell.Index,
		Name:       it.Item.Name,
		Outcome:    it.Outcome,
		DurationMS: it.Duration.Milliseconds(),
	}
	if it.Err == nil {
		return cell
	}
	cell.Error = it.Err.Error()
	var ce *verify.CellExecutionError
	if errors.As(it.Err, &ce) {
		cell.Diagnostics = ce.Diagnostics
	}
	if code, ok := verify.InternalCode(it.Err); ok {
		cell.Code = string(code)
	}
	return cell
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s runner.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewJSONReport(s))
}
